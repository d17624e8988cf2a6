package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier implements Notifier on top of the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramNotifier(botToken string, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	tn := &TelegramNotifier{
		bot:    bot,
		logger: logger,
	}

	// Test Telegram connection with retry
	if err := tn.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return tn, nil
}

// testConnection tests Telegram connection with retry logic
func (tn *TelegramNotifier) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		tn.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := tn.bot.GetMe()
		if err == nil {
			tn.logger.Info("Telegram connection successful")
			return nil
		}

		tn.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, &PermanentError{Err: fmt.Errorf("error parsing chat ID %q: %w", chatID, err)}
	}
	return id, nil
}

func (tn *TelegramNotifier) SendText(ctx context.Context, chatID, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	sent, err := tn.bot.Send(msg)
	if err != nil {
		return 0, classify(fmt.Errorf("error sending telegram message: %w", err))
	}
	return sent.MessageID, nil
}

func (tn *TelegramNotifier) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return 0, err
	}

	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{
		Name:  "timeline.png",
		Bytes: image,
	})
	photo.Caption = caption
	photo.ParseMode = "HTML"

	sent, err := tn.bot.Send(photo)
	if err != nil {
		return 0, classify(fmt.Errorf("error sending photo: %w", err))
	}

	tn.logger.Debug("Sent photo",
		zap.String("chat_id", chatID),
		zap.Int("message_id", sent.MessageID),
		zap.Int("image_size", len(image)))
	return sent.MessageID, nil
}

func (tn *TelegramNotifier) EditPhoto(ctx context.Context, chatID string, messageID int, image []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{
		Name:  "timeline.png",
		Bytes: image,
	})
	edit := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:    id,
			MessageID: messageID,
		},
		Media: media,
	}

	if _, err := tn.bot.Request(edit); err != nil {
		return classify(fmt.Errorf("error editing message media: %w", err))
	}
	return nil
}

func (tn *TelegramNotifier) Pin(ctx context.Context, chatID string, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	pin := tgbotapi.PinChatMessageConfig{
		ChatID:              id,
		MessageID:           messageID,
		DisableNotification: true,
	}
	if _, err := tn.bot.Request(pin); err != nil {
		return classify(fmt.Errorf("error pinning message: %w", err))
	}
	return nil
}

func (tn *TelegramNotifier) Unpin(ctx context.Context, chatID string, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	unpin := tgbotapi.UnpinChatMessageConfig{
		ChatID:    id,
		MessageID: messageID,
	}
	if _, err := tn.bot.Request(unpin); err != nil {
		return classify(fmt.Errorf("error unpinning message: %w", err))
	}
	return nil
}

// classify wraps Telegram API errors so callers can branch on
// transient-vs-permanent. Rate limits (429) and server errors stay
// transient; other 4xx responses will not succeed on retry.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return err
		}
		if apiErr.Code >= 400 {
			return &PermanentError{Err: err}
		}
	}
	return err
}

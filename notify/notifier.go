package notify

import (
	"context"
	"errors"
)

// Notifier delivers messages to the external channel identified by chatID.
// Every operation is fallible; failures are either transient (worth
// retrying) or permanent (see IsPermanent).
type Notifier interface {
	// SendText posts an HTML-formatted text message and returns its message ID.
	SendText(ctx context.Context, chatID, text string) (int, error)

	// SendPhoto posts an image with a caption and returns its message ID.
	SendPhoto(ctx context.Context, chatID string, image []byte, caption string) (int, error)

	// EditPhoto replaces the image of an existing message.
	EditPhoto(ctx context.Context, chatID string, messageID int, image []byte) error

	Pin(ctx context.Context, chatID string, messageID int) error
	Unpin(ctx context.Context, chatID string, messageID int) error
}

// PermanentError marks a delivery failure that retrying cannot fix
// (bad chat ID, malformed request, revoked bot token).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

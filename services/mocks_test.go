package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"powermon/models"
	"powermon/notify"
)

// fakeNotifier records every delivery and can be told to fail.
type fakeNotifier struct {
	mu sync.Mutex

	texts         []string
	textAttempts  int
	failTextTimes int  // fail this many sends transiently before succeeding
	permanentText bool // every send fails permanently

	photoCaptions []string
	editedIDs     []int
	pinnedIDs     []int
	unpinnedIDs   []int

	photoErr error
	editErr  error
	pinErr   error
	unpinErr error

	nextID int
}

func (f *fakeNotifier) SendText(_ context.Context, _ string, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.textAttempts++
	if f.permanentText {
		return 0, &notify.PermanentError{Err: errors.New("chat not found")}
	}
	if f.textAttempts <= f.failTextTimes {
		return 0, errors.New("telegram unavailable")
	}
	f.texts = append(f.texts, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeNotifier) SendPhoto(_ context.Context, _ string, _ []byte, caption string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.photoErr != nil {
		return 0, f.photoErr
	}
	f.photoCaptions = append(f.photoCaptions, caption)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeNotifier) EditPhoto(_ context.Context, _ string, messageID int, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.editErr != nil {
		return f.editErr
	}
	f.editedIDs = append(f.editedIDs, messageID)
	return nil
}

func (f *fakeNotifier) Pin(_ context.Context, _ string, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinnedIDs = append(f.pinnedIDs, messageID)
	return nil
}

func (f *fakeNotifier) Unpin(_ context.Context, _ string, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unpinErr != nil {
		return f.unpinErr
	}
	f.unpinnedIDs = append(f.unpinnedIDs, messageID)
	return nil
}

func (f *fakeNotifier) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeNotifier) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textAttempts
}

// fakeRenderer returns a fixed artifact or a configured error.
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRenderer) Render(_ models.WeeklySamples) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("image-bytes"), nil
}

// testSite builds a site with sane defaults for the monitoring tests.
func testSite(id string) *models.Site {
	return &models.Site{
		ID:              id,
		Name:            "Test Site",
		APIKey:          "key-" + id,
		TelegramChatID:  "100",
		AlertLanguage:   models.LangEN,
		Status:          models.StatusUnknown,
		AlertingEnabled: true,
		HeartbeatPeriod: 60 * time.Second,
		GracePeriod:     30 * time.Second,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

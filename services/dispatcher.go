package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"powermon/models"
	"powermon/notify"
	"powermon/store"
)

// AlertDispatcher turns committed transitions into outbound notifications.
//
// Dispatch is fire-and-track: callers hand over the event and proceed;
// delivery with retries happens on its own goroutine. An exhausted retry
// budget sets the site's sticky alertingFailed flag and reports the
// incident, but never suppresses future dispatch attempts.
type AlertDispatcher struct {
	store    store.Store
	notifier notify.Notifier
	operator *notify.OperatorWebhook // optional
	logger   *zap.Logger

	maxAttempts  int
	initialDelay time.Duration

	wg sync.WaitGroup
}

func NewAlertDispatcher(st store.Store, notifier notify.Notifier, operator *notify.OperatorWebhook, maxAttempts int, initialDelay time.Duration, logger *zap.Logger) *AlertDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &AlertDispatcher{
		store:        st,
		notifier:     notifier,
		operator:     operator,
		logger:       logger,
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
	}
}

// Dispatch queues delivery of an alert for a committed transition and
// returns immediately.
func (d *AlertDispatcher) Dispatch(ev *models.StatusChangeEvent, site *models.Site) {
	evCopy := *ev
	siteCopy := *site
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(&evCopy, &siteCopy)
	}()
}

// Drain waits up to timeout for in-flight deliveries to finish. Partial
// attempts are safe to abandon: the event record stays alertSent=false
// and the next process sees a consistent state.
func (d *AlertDispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *AlertDispatcher) deliver(ev *models.StatusChangeEvent, site *models.Site) {
	if !site.AlertingEnabled {
		d.logger.Info("Alerting disabled, skipping",
			zap.String("site", site.Name),
			zap.String("event_id", ev.ID))
		return
	}

	// Delivery is detached from the trigger's lifetime; only bound it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	message := formatAlert(site, ev)

	var lastErr error
	delay := d.initialDelay
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		_, err := d.notifier.SendText(ctx, site.TelegramChatID, message)
		if err == nil {
			d.markSent(ctx, ev, site)
			return
		}
		lastErr = err

		if notify.IsPermanent(err) {
			d.logger.Error("Alert delivery failed permanently",
				zap.String("site", site.Name),
				zap.String("event_id", ev.ID),
				zap.Error(err))
			break
		}

		d.logger.Warn("Alert delivery failed",
			zap.String("site", site.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.maxAttempts),
			zap.Error(err))

		if attempt < d.maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = d.maxAttempts
			case <-time.After(delay):
				delay *= 2
			}
		}
	}

	d.markFailed(ev, site, lastErr)
}

func (d *AlertDispatcher) markSent(ctx context.Context, ev *models.StatusChangeEvent, site *models.Site) {
	now := time.Now()
	if err := d.store.MarkEventAlertSent(ctx, ev.SiteID, ev.ID, now); err != nil {
		d.logger.Error("Failed to mark alert sent",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}

	// A successful send clears the sticky failure flag. The snapshot we
	// dispatched with may predate a markFailed from another delivery, so
	// clear it regardless of what the snapshot says.
	failed := false
	if err := d.store.UpdateSiteStatus(ctx, site.ID, store.SiteStatusUpdate{
		AlertingFailed: &failed,
	}); err != nil {
		d.logger.Error("Failed to clear alerting failure flag",
			zap.String("site", site.Name),
			zap.Error(err))
	}

	d.logger.Info("Alert sent",
		zap.String("site", site.Name),
		zap.String("kind", string(ev.Kind)))
}

func (d *AlertDispatcher) markFailed(ev *models.StatusChangeEvent, site *models.Site, cause error) {
	// Use a fresh context: the delivery window may already be exhausted.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	failed := true
	if err := d.store.UpdateSiteStatus(ctx, site.ID, store.SiteStatusUpdate{
		AlertingFailed: &failed,
	}); err != nil {
		d.logger.Error("Failed to set alerting failure flag",
			zap.String("site", site.Name),
			zap.Error(err))
	}

	d.logger.Error("Alert delivery exhausted",
		zap.String("site", site.Name),
		zap.String("event_id", ev.ID),
		zap.Error(cause))

	if d.operator != nil {
		errText := ""
		if cause != nil {
			errText = cause.Error()
		}
		d.operator.ReportAlertFailure(ctx, notify.OperatorIncident{
			SiteID:    site.ID,
			SiteName:  site.Name,
			EventID:   ev.ID,
			Kind:      string(ev.Kind),
			Error:     errText,
			Timestamp: time.Now(),
		})
	}
}

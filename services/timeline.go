package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"powermon/models"
	"powermon/notify"
	"powermon/store"
)

// Renderer turns a week of hourly status samples into an image artifact.
// Pure and deterministic given identical input.
type Renderer interface {
	Render(week models.WeeklySamples) ([]byte, error)
}

// TimelineLifecycleManager keeps each site's pinned weekly diagram message
// alive: hourly refreshes of today's message and the midnight rollover
// (final refresh + unpin of yesterday, send + pin of today).
type TimelineLifecycleManager struct {
	store    store.Store
	notifier notify.Notifier
	renderer Renderer
	logger   *zap.Logger
	loc      *time.Location
}

func NewTimelineLifecycleManager(st store.Store, notifier notify.Notifier, renderer Renderer, loc *time.Location, logger *zap.Logger) *TimelineLifecycleManager {
	return &TimelineLifecycleManager{
		store:    st,
		notifier: notifier,
		renderer: renderer,
		logger:   logger,
		loc:      loc,
	}
}

// Run drives the hourly and day-boundary ticks until the context ends.
func (tm *TimelineLifecycleManager) Run(ctx context.Context) {
	tm.logger.Info("Timeline lifecycle manager started")

	now := time.Now().In(tm.loc)
	lastHour := -1
	lastDaily := ""
	if now.Hour() != 0 {
		// Booting mid-day must not trigger a rollover for today.
		lastDaily = models.DateKey(now)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tm.logger.Info("Timeline lifecycle manager stopped")
			return
		case <-ticker.C:
			now := time.Now().In(tm.loc)

			// Advance only on a fully successful rollover so a transient
			// failure is retried on the next tick within the midnight hour.
			if now.Hour() == 0 && lastDaily != models.DateKey(now) {
				if tm.DayBoundaryTick(ctx, now) {
					lastDaily = models.DateKey(now)
				}
			}

			if now.Hour() != lastHour {
				lastHour = now.Hour()
				tm.HourlyTick(ctx, now)
			}
		}
	}
}

// HourlyTick refreshes today's existing timeline message for every
// monitored site. Sites without a message for today are skipped; creation
// belongs to the day-boundary tick.
func (tm *TimelineLifecycleManager) HourlyTick(ctx context.Context, now time.Time) {
	sites, err := tm.store.ListMonitoredSites(ctx)
	if err != nil {
		tm.logger.Error("Hourly tick failed to list sites", zap.Error(err))
		return
	}

	updated := 0
	for _, site := range sites {
		if !site.AlertingEnabled {
			continue
		}
		if tm.refreshMessage(ctx, site, now, now) {
			updated++
		}
	}

	tm.logger.Debug("Hourly timeline update complete", zap.Int("updated", updated))
}

// refreshMessage re-renders the message for targetDate and edits it in
// place. Returns true when a refresh actually happened.
func (tm *TimelineLifecycleManager) refreshMessage(ctx context.Context, site *models.Site, targetDate, now time.Time) bool {
	msg, err := tm.store.GetTimelineMessage(ctx, site.ID, models.DateKey(targetDate))
	if err != nil {
		tm.logger.Error("Failed to load timeline message",
			zap.String("site", site.Name),
			zap.Error(err))
		return false
	}
	if msg == nil {
		return false
	}

	week, err := BuildWeeklySamples(ctx, tm.store, site, targetDate, now)
	if err != nil {
		tm.logger.Error("Failed to build weekly samples",
			zap.String("site", site.Name),
			zap.Error(err))
		return false
	}

	image, err := tm.renderer.Render(week)
	if err != nil {
		// Skip this cycle; the existing message stays intact.
		tm.logger.Error("Renderer failed",
			zap.String("site", site.Name),
			zap.Error(err))
		return false
	}

	if err := tm.notifier.EditPhoto(ctx, site.TelegramChatID, msg.MessageID, image); err != nil {
		tm.logger.Error("Failed to update timeline message",
			zap.String("site", site.Name),
			zap.Int("message_id", msg.MessageID),
			zap.Error(err))
		return false
	}

	msg.LastRefreshedAt = now
	if err := tm.store.UpsertTimelineMessage(ctx, msg); err != nil {
		tm.logger.Error("Failed to record timeline refresh",
			zap.String("site", site.Name),
			zap.Error(err))
	}
	return true
}

// DayBoundaryTick performs the midnight rollover for every monitored site:
// a final refresh and unpin of yesterday's message, then a fresh message
// for the new day, sent and pinned. Safe to re-run: an existing message
// for today is reused, never duplicated. Returns true when every site
// rolled over; a false return tells the caller to retry the whole tick.
func (tm *TimelineLifecycleManager) DayBoundaryTick(ctx context.Context, now time.Time) bool {
	sites, err := tm.store.ListMonitoredSites(ctx)
	if err != nil {
		tm.logger.Error("Day-boundary tick failed to list sites", zap.Error(err))
		return false
	}

	complete := true
	for _, site := range sites {
		if !site.AlertingEnabled {
			continue
		}
		if err := tm.rollOver(ctx, site, now); err != nil {
			tm.logger.Error("Day-boundary rollover failed",
				zap.String("site", site.Name),
				zap.Error(err))
			complete = false
		}
	}

	if complete {
		tm.logger.Info("Day-boundary rollover complete")
	}
	return complete
}

func (tm *TimelineLifecycleManager) rollOver(ctx context.Context, site *models.Site, now time.Time) error {
	yesterday := now.AddDate(0, 0, -1)

	ymsg, err := tm.store.GetTimelineMessage(ctx, site.ID, models.DateKey(yesterday))
	if err != nil {
		return err
	}
	if ymsg != nil && ymsg.IsPinned {
		// Capture the last hour of yesterday before retiring the message.
		tm.refreshMessage(ctx, site, yesterday, now)

		if err := tm.notifier.Unpin(ctx, site.TelegramChatID, ymsg.MessageID); err != nil {
			// Pinning today's message now could leave two pinned; retry the
			// whole rollover next cycle instead.
			return err
		}
		ymsg.IsPinned = false
		if err := tm.store.UpsertTimelineMessage(ctx, ymsg); err != nil {
			return err
		}
		tm.logger.Info("Unpinned yesterday's timeline message", zap.String("site", site.Name))
	}

	today := models.DateKey(now)
	tmsg, err := tm.store.GetTimelineMessage(ctx, site.ID, today)
	if err != nil {
		return err
	}
	if tmsg != nil {
		// A retried tick: reuse the existing message.
		if !tmsg.IsPinned {
			if err := tm.notifier.Pin(ctx, site.TelegramChatID, tmsg.MessageID); err != nil {
				return err
			}
			tmsg.IsPinned = true
			if err := tm.store.UpsertTimelineMessage(ctx, tmsg); err != nil {
				return err
			}
		}
		return nil
	}

	week, err := BuildWeeklySamples(ctx, tm.store, site, now, now)
	if err != nil {
		return err
	}
	image, err := tm.renderer.Render(week)
	if err != nil {
		return err
	}

	messageID, err := tm.notifier.SendPhoto(ctx, site.TelegramChatID, image, diagramCaption(site, now))
	if err != nil {
		return err
	}

	// Record before pinning so a pin failure can't orphan the message.
	tmsg = &models.TimelineMessage{
		SiteID:          site.ID,
		MessageID:       messageID,
		ForDate:         today,
		IsPinned:        false,
		LastRefreshedAt: now,
		CreatedAt:       now,
	}
	if err := tm.store.UpsertTimelineMessage(ctx, tmsg); err != nil {
		return err
	}

	if err := tm.notifier.Pin(ctx, site.TelegramChatID, messageID); err != nil {
		return err
	}
	tmsg.IsPinned = true
	if err := tm.store.UpsertTimelineMessage(ctx, tmsg); err != nil {
		return err
	}

	tm.logger.Info("Sent and pinned timeline message",
		zap.String("site", site.Name),
		zap.String("for_date", today))
	return nil
}

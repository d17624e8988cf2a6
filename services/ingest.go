package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"powermon/models"
	"powermon/store"
)

// dedupWindow is how close two heartbeats may be before the second one is
// treated as a duplicate of the first.
const dedupWindow = 5 * time.Second

// IngestResult is the outcome of processing one heartbeat signal.
type IngestResult string

const (
	IngestAccepted     IngestResult = "accepted"
	IngestDuplicate    IngestResult = "duplicate"
	IngestUnauthorized IngestResult = "unauthorized"
)

// HeartbeatIngester receives heartbeat signals, deduplicates them, records
// them and drives the state machine. It is the only component allowed to
// set monitoringStartedAt.
type HeartbeatIngester struct {
	store      store.Store
	sm         *StateMachine
	dispatcher *AlertDispatcher
	logger     *zap.Logger
}

func NewHeartbeatIngester(st store.Store, sm *StateMachine, dispatcher *AlertDispatcher, logger *zap.Logger) *HeartbeatIngester {
	return &HeartbeatIngester{
		store:      st,
		sm:         sm,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Ingest processes one credentialed heartbeat. Duplicate is success
// semantics for the caller, not a failure.
func (hi *HeartbeatIngester) Ingest(ctx context.Context, apiKey string, receivedAt time.Time) (IngestResult, error) {
	site, err := hi.store.GetSiteByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return IngestUnauthorized, nil
		}
		return "", fmt.Errorf("ingest: looking up site: %w", err)
	}

	var result IngestResult
	err = hi.sm.withSiteLock(site.ID, func() error {
		// Fresh read inside the lock; the sweep may have just moved the site.
		site, err = hi.store.GetSite(ctx, site.ID)
		if err != nil {
			return fmt.Errorf("ingest: re-reading site: %w", err)
		}

		last, err := hi.store.MostRecentHeartbeat(ctx, site.ID)
		if err != nil {
			return fmt.Errorf("ingest: reading last heartbeat: %w", err)
		}
		if last != nil && receivedAt.Sub(last.ReceivedAt) < dedupWindow {
			hi.logger.Debug("Duplicate heartbeat ignored", zap.String("site", site.Name))
			result = IngestDuplicate
			return nil
		}

		if err := hi.store.AppendHeartbeat(ctx, &models.HeartbeatRecord{
			ID:         uuid.NewString(),
			SiteID:     site.ID,
			ReceivedAt: receivedAt,
		}); err != nil {
			return fmt.Errorf("ingest: appending heartbeat: %w", err)
		}

		if !site.IsMonitoringActive() {
			if err := hi.startMonitoring(ctx, site, receivedAt); err != nil {
				return err
			}
			result = IngestAccepted
			return nil
		}

		at := receivedAt
		if err := hi.store.UpdateSiteStatus(ctx, site.ID, store.SiteStatusUpdate{
			LastHeartbeatAt: &at,
		}); err != nil {
			return fmt.Errorf("ingest: updating last heartbeat: %w", err)
		}
		site.LastHeartbeatAt = &at

		// Heartbeats while OFF mean power is back.
		if site.Status == models.StatusOff {
			ev, err := hi.sm.transitionLocked(ctx, site, models.StatusOn, receivedAt)
			if err != nil {
				return err
			}
			if ev != nil {
				hi.logger.Info("Power restored", zap.String("site", site.Name))
				hi.dispatcher.Dispatch(ev, site)
			}
		}

		result = IngestAccepted
		return nil
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

// startMonitoring handles the first heartbeat ever seen for a site:
// monitoringStartedAt is set exactly once here, and the UNKNOWN->ON
// transition is committed silently (no alert for the initial start).
func (hi *HeartbeatIngester) startMonitoring(ctx context.Context, site *models.Site, startedAt time.Time) error {
	hi.logger.Info("Starting monitoring", zap.String("site", site.Name))

	at := startedAt
	if err := hi.store.UpdateSiteStatus(ctx, site.ID, store.SiteStatusUpdate{
		MonitoringStartedAt: &at,
		LastHeartbeatAt:     &at,
	}); err != nil {
		return fmt.Errorf("ingest: starting monitoring for %s: %w", site.ID, err)
	}
	site.MonitoringStartedAt = &at
	site.LastHeartbeatAt = &at

	if _, err := hi.sm.transitionLocked(ctx, site, models.StatusOn, startedAt); err != nil {
		return err
	}
	return nil
}

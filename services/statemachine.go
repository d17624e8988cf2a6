package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"powermon/models"
	"powermon/store"
)

// StateMachine owns every power status transition. UNKNOWN is the initial
// state and is never re-entered; after the first heartbeat a site only
// moves between ON and OFF.
//
// Transitions for one site are serialized through the per-site lock so
// that of two racing triggers (inbound heartbeat vs outage sweep) exactly
// one commits a change and the other observes the new status and no-ops.
type StateMachine struct {
	store  store.Store
	locks  *siteLocks
	logger *zap.Logger
}

func NewStateMachine(st store.Store, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		store:  st,
		locks:  newSiteLocks(),
		logger: logger,
	}
}

// Transition drives a site to the target status at the given instant.
// Returns the committed StatusChangeEvent, or nil when the site already
// has the target status (idempotent re-application).
func (sm *StateMachine) Transition(ctx context.Context, siteID string, target models.PowerStatus, at time.Time) (*models.StatusChangeEvent, error) {
	mu := sm.locks.get(siteID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read inside the lock: a racing trigger may have just committed.
	site, err := sm.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	return sm.transitionLocked(ctx, site, target, at)
}

// transitionLocked applies a transition for a site whose lock is already
// held by the caller, using the caller's fresh view of the site.
func (sm *StateMachine) transitionLocked(ctx context.Context, site *models.Site, target models.PowerStatus, at time.Time) (*models.StatusChangeEvent, error) {
	if site.Status == target {
		return nil, nil
	}

	var prevDuration *time.Duration
	if site.LastStatusChangeAt != nil {
		d := at.Sub(*site.LastStatusChangeAt)
		prevDuration = &d
	}

	status := target
	changeAt := at
	if err := sm.store.UpdateSiteStatus(ctx, site.ID, store.SiteStatusUpdate{
		Status:             &status,
		LastStatusChangeAt: &changeAt,
	}); err != nil {
		return nil, fmt.Errorf("transition: updating site %s: %w", site.ID, err)
	}

	ev := &models.StatusChangeEvent{
		ID:                    uuid.NewString(),
		SiteID:                site.ID,
		Kind:                  models.KindFor(target),
		OccurredAt:            at,
		PreviousStateDuration: prevDuration,
	}
	if err := sm.store.AppendStatusChangeEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("transition: appending event for %s: %w", site.ID, err)
	}

	// Keep the caller's view consistent with the store.
	site.Status = target
	site.LastStatusChangeAt = &changeAt

	sm.logger.Info("Status transition committed",
		zap.String("site", site.Name),
		zap.String("status", string(target)),
		zap.Time("at", at))

	return ev, nil
}

// withSiteLock runs fn while holding the site's transition lock. Used by
// the ingester so its read-modify-write of heartbeat fields and any
// resulting transition happen as one critical section.
func (sm *StateMachine) withSiteLock(siteID string, fn func() error) error {
	mu := sm.locks.get(siteID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

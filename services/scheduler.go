package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"powermon/models"
	"powermon/store"
)

// Extra silence tolerance while a router reboots after power restoration.
const (
	routerReconnectWindow = 5 * time.Minute
	routerReconnectGrace  = 3 * time.Minute
)

// OutageScheduler periodically sweeps all monitored sites and forces an
// OFF transition for any site whose heartbeat silence exceeded its
// threshold. Because all state is persisted, the first sweep after a
// process restart behaves exactly like any other sweep: a site that timed
// out while we were down gets exactly one OFF transition and one alert.
type OutageScheduler struct {
	store      store.Store
	sm         *StateMachine
	dispatcher *AlertDispatcher
	logger     *zap.Logger
	interval   time.Duration
}

func NewOutageScheduler(st store.Store, sm *StateMachine, dispatcher *AlertDispatcher, interval time.Duration, logger *zap.Logger) *OutageScheduler {
	return &OutageScheduler{
		store:      st,
		sm:         sm,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
	}
}

// Run sweeps immediately, then on every tick until the context ends.
func (os *OutageScheduler) Run(ctx context.Context) {
	os.logger.Info("Outage scheduler started", zap.Duration("interval", os.interval))

	os.Sweep(ctx, time.Now())

	ticker := time.NewTicker(os.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			os.logger.Info("Outage scheduler stopped")
			return
		case <-ticker.C:
			os.Sweep(ctx, time.Now())
		}
	}
}

// Sweep evaluates every monitored site once. Per-site failures are logged
// and skipped; one bad site never aborts the batch.
func (os *OutageScheduler) Sweep(ctx context.Context, now time.Time) int {
	sites, err := os.store.ListMonitoredSites(ctx)
	if err != nil {
		os.logger.Error("Sweep failed to list sites", zap.Error(err))
		return 0
	}

	outages := 0
	for _, site := range sites {
		if site.Status != models.StatusOn {
			continue
		}
		if !timedOut(site, now) {
			continue
		}
		if site.OfflineDetectionDisabled {
			continue
		}

		var ev *models.StatusChangeEvent
		var fresh *models.Site
		err := os.sm.withSiteLock(site.ID, func() error {
			var err error
			fresh, err = os.store.GetSite(ctx, site.ID)
			if err != nil {
				return err
			}
			// The listing is stale by now: a heartbeat may have landed in
			// the meantime. Deciding on anything but the fresh view would
			// commit a spurious outage.
			if fresh.Status != models.StatusOn || !timedOut(fresh, now) || fresh.OfflineDetectionDisabled {
				return nil
			}
			ev, err = os.sm.transitionLocked(ctx, fresh, models.StatusOff, now)
			return err
		})
		if err != nil {
			os.logger.Error("Sweep failed for site",
				zap.String("site", site.Name),
				zap.Error(err))
			continue
		}
		if ev == nil {
			// A racing trigger won; nothing to do.
			continue
		}

		os.logger.Warn("Power outage detected",
			zap.String("site", fresh.Name),
			zap.Timep("last_heartbeat_at", fresh.LastHeartbeatAt))
		os.dispatcher.Dispatch(ev, fresh)
		outages++
	}

	if outages > 0 {
		os.logger.Info("Sweep complete", zap.Int("outages", outages))
	}
	return outages
}

// timedOut reports whether heartbeat silence exceeds the site's threshold.
func timedOut(site *models.Site, now time.Time) bool {
	if site.LastHeartbeatAt == nil {
		return false
	}

	timeout := site.Timeout()
	if shouldApplyRouterReconnectGrace(site) {
		timeout += routerReconnectGrace
	}

	return now.Sub(*site.LastHeartbeatAt) > timeout
}

// shouldApplyRouterReconnectGrace extends the threshold when heartbeats
// stopped within the first minutes after an ON transition: routers at
// sites without UPS take a while to reconnect after power returns.
func shouldApplyRouterReconnectGrace(site *models.Site) bool {
	if !site.RouterReconnectWindowEnabled {
		return false
	}
	if site.Status != models.StatusOn {
		return false
	}
	if site.LastStatusChangeAt == nil || site.LastHeartbeatAt == nil {
		return false
	}

	elapsedSinceOn := site.LastHeartbeatAt.Sub(*site.LastStatusChangeAt)
	return elapsedSinceOn <= routerReconnectWindow
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"powermon/models"
	"powermon/store"
)

func newSchedulerFixture(t *testing.T) (*store.MemoryStore, *fakeNotifier, *OutageScheduler, *AlertDispatcher) {
	t.Helper()

	st := store.NewMemoryStore()
	fn := &fakeNotifier{}
	sm := NewStateMachine(st, zap.NewNop())
	dispatcher := NewAlertDispatcher(st, fn, nil, 3, time.Millisecond, zap.NewNop())
	scheduler := NewOutageScheduler(st, sm, dispatcher, 10*time.Second, zap.NewNop())
	return st, fn, scheduler, dispatcher
}

func monitoredSite(id string, now time.Time) *models.Site {
	site := testSite(id)
	site.Status = models.StatusOn
	site.MonitoringStartedAt = timePtr(now.Add(-24 * time.Hour))
	return site
}

func TestSweepDetectsOutage(t *testing.T) {
	st, fn, scheduler, dispatcher := newSchedulerFixture(t)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	site.LastHeartbeatAt = timePtr(now.Add(-95 * time.Second))
	site.LastStatusChangeAt = timePtr(now.Add(-100 * time.Second))
	st.PutSite(site)

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 1, outages)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOff, stored.Status)
	assert.Equal(t, now, *stored.LastStatusChangeAt, "the outage is stamped at detection time")

	require.True(t, dispatcher.Drain(time.Second))
	texts := fn.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "POWER OFF")
	assert.Contains(t, texts[0], "1m 40s")
}

func TestSweepLeavesFreshSitesAlone(t *testing.T) {
	st, fn, scheduler, dispatcher := newSchedulerFixture(t)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	// Silence of 80s is inside the 60s + 30s threshold.
	site.LastHeartbeatAt = timePtr(now.Add(-80 * time.Second))
	st.PutSite(site)

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 0, outages)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)

	require.True(t, dispatcher.Drain(time.Second))
	assert.Empty(t, fn.sentTexts())
}

func TestSweepSkipsSitesAlreadyOff(t *testing.T) {
	st, _, scheduler, _ := newSchedulerFixture(t)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	site.Status = models.StatusOff
	site.LastHeartbeatAt = timePtr(now.Add(-time.Hour))
	st.PutSite(site)

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 0, outages)

	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSweepHonorsOfflineDetectionDisabled(t *testing.T) {
	st, _, scheduler, _ := newSchedulerFixture(t)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	site.OfflineDetectionDisabled = true
	site.LastHeartbeatAt = timePtr(now.Add(-time.Hour))
	st.PutSite(site)

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 0, outages)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)
}

func TestSweepAppliesRouterReconnectGrace(t *testing.T) {
	st, _, scheduler, _ := newSchedulerFixture(t)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	// Heartbeats stopped 100s ago, shortly after power returned. With the
	// reconnect window enabled the threshold stretches to 90s + 180s.
	site := monitoredSite("graced", now)
	site.RouterReconnectWindowEnabled = true
	site.LastStatusChangeAt = timePtr(now.Add(-200 * time.Second))
	site.LastHeartbeatAt = timePtr(now.Add(-100 * time.Second))
	st.PutSite(site)

	// Same timing without the window: a plain timeout.
	plain := monitoredSite("plain", now)
	plain.Name = "Plain Site"
	plain.APIKey = "key-plain"
	plain.LastStatusChangeAt = timePtr(now.Add(-200 * time.Second))
	plain.LastHeartbeatAt = timePtr(now.Add(-100 * time.Second))
	st.PutSite(plain)

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 1, outages)

	graced, err := st.GetSite(context.Background(), "graced")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, graced.Status)

	stored, err := st.GetSite(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOff, stored.Status)
}

// listHookStore lets a test inject work between the sweep's site listing
// and its per-site processing.
type listHookStore struct {
	store.Store
	onList func()
}

func (s *listHookStore) ListMonitoredSites(ctx context.Context) ([]*models.Site, error) {
	sites, err := s.Store.ListMonitoredSites(ctx)
	if s.onList != nil {
		s.onList()
	}
	return sites, err
}

func TestSweepIgnoresHeartbeatRacingTheListing(t *testing.T) {
	st := store.NewMemoryStore()
	fn := &fakeNotifier{}
	sm := NewStateMachine(st, zap.NewNop())
	dispatcher := NewAlertDispatcher(st, fn, nil, 3, time.Millisecond, zap.NewNop())
	ingester := NewHeartbeatIngester(st, sm, dispatcher, zap.NewNop())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	site.LastHeartbeatAt = timePtr(now.Add(-100 * time.Second))
	st.PutSite(site)

	// The site looks timed out in the listing, but a heartbeat lands
	// before the sweep reaches it. The fresh in-lock read must win.
	hooked := &listHookStore{Store: st, onList: func() {
		result, err := ingester.Ingest(context.Background(), site.APIKey, now)
		require.NoError(t, err)
		require.Equal(t, IngestAccepted, result)
	}}
	scheduler := NewOutageScheduler(hooked, sm, dispatcher, 10*time.Second, zap.NewNop())

	outages := scheduler.Sweep(context.Background(), now)
	assert.Equal(t, 0, outages)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)

	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events, "no real transition happened, so none may be recorded")

	require.True(t, dispatcher.Drain(time.Second))
	assert.Empty(t, fn.sentTexts())
}

func TestSweepAfterRestartEmitsSingleOutage(t *testing.T) {
	st, fn, scheduler, dispatcher := newSchedulerFixture(t)

	// A site that timed out while the process was down. The first sweep
	// after startup handles it like any other outage, exactly once.
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := monitoredSite("site-1", now)
	site.LastHeartbeatAt = timePtr(now.Add(-10 * time.Minute))
	site.LastStatusChangeAt = timePtr(now.Add(-30 * time.Minute))
	st.PutSite(site)

	assert.Equal(t, 1, scheduler.Sweep(context.Background(), now))
	assert.Equal(t, 0, scheduler.Sweep(context.Background(), now.Add(10*time.Second)))

	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.True(t, dispatcher.Drain(time.Second))
	assert.Len(t, fn.sentTexts(), 1)
}

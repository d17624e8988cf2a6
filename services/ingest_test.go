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

func newIngestFixture(t *testing.T) (*store.MemoryStore, *fakeNotifier, *HeartbeatIngester, *AlertDispatcher) {
	t.Helper()

	st := store.NewMemoryStore()
	fn := &fakeNotifier{}
	sm := NewStateMachine(st, zap.NewNop())
	dispatcher := NewAlertDispatcher(st, fn, nil, 3, time.Millisecond, zap.NewNop())
	ingester := NewHeartbeatIngester(st, sm, dispatcher, zap.NewNop())
	return st, fn, ingester, dispatcher
}

func TestIngestUnknownAPIKey(t *testing.T) {
	_, _, ingester, _ := newIngestFixture(t)

	result, err := ingester.Ingest(context.Background(), "no-such-key", time.Now())
	require.NoError(t, err)
	assert.Equal(t, IngestUnauthorized, result)
}

func TestFirstHeartbeatStartsMonitoringSilently(t *testing.T) {
	st, fn, ingester, dispatcher := newIngestFixture(t)

	site := testSite("site-1")
	st.PutSite(site)

	at := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	result, err := ingester.Ingest(context.Background(), site.APIKey, at)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)
	require.NotNil(t, stored.MonitoringStartedAt)
	assert.Equal(t, at, *stored.MonitoringStartedAt)
	require.NotNil(t, stored.LastHeartbeatAt)
	assert.Equal(t, at, *stored.LastHeartbeatAt)

	// The initial UNKNOWN -> ON transition is recorded but not announced.
	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventToOn, events[0].Kind)

	require.True(t, dispatcher.Drain(time.Second))
	assert.Empty(t, fn.sentTexts())
}

func TestDuplicateHeartbeatIgnored(t *testing.T) {
	st, _, ingester, _ := newIngestFixture(t)

	site := testSite("site-1")
	st.PutSite(site)

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	result, err := ingester.Ingest(context.Background(), site.APIKey, t0)
	require.NoError(t, err)
	require.Equal(t, IngestAccepted, result)

	// A retransmission 3s later lands inside the dedup window.
	result, err = ingester.Ingest(context.Background(), site.APIKey, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, result)

	last, err := st.MostRecentHeartbeat(context.Background(), "site-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0, last.ReceivedAt, "the duplicate must not be recorded")

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, t0, *stored.LastHeartbeatAt, "the duplicate must not advance lastHeartbeatAt")
}

func TestHeartbeatAfterDedupWindowAccepted(t *testing.T) {
	st, _, ingester, _ := newIngestFixture(t)

	site := testSite("site-1")
	st.PutSite(site)

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	_, err := ingester.Ingest(context.Background(), site.APIKey, t0)
	require.NoError(t, err)

	result, err := ingester.Ingest(context.Background(), site.APIKey, t0.Add(6*time.Second))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)

	last, err := st.MostRecentHeartbeat(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(6*time.Second), last.ReceivedAt)
}

func TestHeartbeatWhileOffRestoresPower(t *testing.T) {
	st, fn, ingester, dispatcher := newIngestFixture(t)

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := testSite("site-1")
	site.Status = models.StatusOff
	site.MonitoringStartedAt = timePtr(t0.Add(-time.Hour))
	site.LastHeartbeatAt = timePtr(t0.Add(-200 * time.Second))
	site.LastStatusChangeAt = timePtr(t0)
	st.PutSite(site)

	result, err := ingester.Ingest(context.Background(), site.APIKey, t0.Add(100*time.Second))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)

	require.True(t, dispatcher.Drain(time.Second))
	texts := fn.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "POWER ON")
	assert.Contains(t, texts[0], "1m 40s", "outage length must be reported")
}

func TestHeartbeatWhileOnStaysQuiet(t *testing.T) {
	st, fn, ingester, dispatcher := newIngestFixture(t)

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := testSite("site-1")
	site.Status = models.StatusOn
	site.MonitoringStartedAt = timePtr(t0.Add(-time.Hour))
	site.LastHeartbeatAt = timePtr(t0.Add(-60 * time.Second))
	site.LastStatusChangeAt = timePtr(t0.Add(-time.Hour))
	st.PutSite(site)

	result, err := ingester.Ingest(context.Background(), site.APIKey, t0)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, stored.Status)
	assert.Equal(t, t0, *stored.LastHeartbeatAt)

	require.True(t, dispatcher.Drain(time.Second))
	assert.Empty(t, fn.sentTexts())
}

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"powermon/models"
	"powermon/store"
)

func TestTransitionCommitsEvent(t *testing.T) {
	st := store.NewMemoryStore()
	sm := NewStateMachine(st, zap.NewNop())

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	site := testSite("site-1")
	site.Status = models.StatusOn
	site.MonitoringStartedAt = timePtr(t0.Add(-time.Hour))
	site.LastStatusChangeAt = timePtr(t0)
	st.PutSite(site)

	ev, err := sm.Transition(context.Background(), "site-1", models.StatusOff, t0.Add(100*time.Second))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, models.EventToOff, ev.Kind)
	require.NotNil(t, ev.PreviousStateDuration)
	assert.Equal(t, 100*time.Second, *ev.PreviousStateDuration)
	assert.False(t, ev.AlertSent)

	stored, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOff, stored.Status)
	assert.Equal(t, t0.Add(100*time.Second), *stored.LastStatusChangeAt)
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	sm := NewStateMachine(st, zap.NewNop())

	site := testSite("site-1")
	site.Status = models.StatusOn
	st.PutSite(site)

	ev, err := sm.Transition(context.Background(), "site-1", models.StatusOn, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ev)

	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTransitionWithoutPriorChangeHasNilDuration(t *testing.T) {
	st := store.NewMemoryStore()
	sm := NewStateMachine(st, zap.NewNop())

	site := testSite("site-1")
	st.PutSite(site)

	ev, err := sm.Transition(context.Background(), "site-1", models.StatusOn, time.Now())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Nil(t, ev.PreviousStateDuration)
	assert.Equal(t, models.EventToOn, ev.Kind)
}

func TestConcurrentTransitionsCommitOnce(t *testing.T) {
	st := store.NewMemoryStore()
	sm := NewStateMachine(st, zap.NewNop())

	site := testSite("site-1")
	site.Status = models.StatusOn
	st.PutSite(site)

	at := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := sm.Transition(context.Background(), "site-1", models.StatusOff, at)
			assert.NoError(t, err)
			if ev != nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed, "exactly one racing transition must commit")

	events, err := st.StatusChangeEventsInRange(context.Background(), "site-1",
		at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

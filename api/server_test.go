package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"powermon/models"
	"powermon/services"
	"powermon/store"
)

type nopNotifier struct{}

func (nopNotifier) SendText(context.Context, string, string) (int, error) { return 1, nil }
func (nopNotifier) SendPhoto(context.Context, string, []byte, string) (int, error) {
	return 1, nil
}
func (nopNotifier) EditPhoto(context.Context, string, int, []byte) error { return nil }
func (nopNotifier) Pin(context.Context, string, int) error               { return nil }
func (nopNotifier) Unpin(context.Context, string, int) error             { return nil }

func newTestHandler(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	logger := zap.NewNop()
	sm := services.NewStateMachine(st, logger)
	dispatcher := services.NewAlertDispatcher(st, nopNotifier{}, nil, 1, time.Millisecond, logger)
	ingester := services.NewHeartbeatIngester(st, sm, dispatcher, logger)

	server := NewServer(":0", ingester, logger)
	return server.httpServer.Handler, st
}

func doHeartbeat(t *testing.T, handler http.Handler, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec, body
}

func TestHeartbeatEndpointMissingKey(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec, body := doHeartbeat(t, handler, "/api/heartbeat/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", body["error"])
}

func TestHeartbeatEndpointUnknownKey(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec, body := doHeartbeat(t, handler, "/api/heartbeat/?api_key=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", body["error"])
}

func TestHeartbeatEndpointAccepts(t *testing.T) {
	handler, st := newTestHandler(t)
	st.PutSite(&models.Site{ID: "site-1", Name: "Cabin", APIKey: "secret", AlertingEnabled: true})

	rec, body := doHeartbeat(t, handler, "/api/heartbeat/?api_key=secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["received_at"])

	site, err := st.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, site.Status)
}

func TestHeartbeatEndpointHeaderKey(t *testing.T) {
	handler, st := newTestHandler(t)
	st.PutSite(&models.Site{ID: "site-1", Name: "Cabin", APIKey: "secret", AlertingEnabled: true})

	rec, body := doHeartbeat(t, handler, "/api/heartbeat", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHeartbeatEndpointDuplicate(t *testing.T) {
	handler, st := newTestHandler(t)
	st.PutSite(&models.Site{ID: "site-1", Name: "Cabin", APIKey: "secret", AlertingEnabled: true})

	rec, _ := doHeartbeat(t, handler, "/api/heartbeat/?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// An immediate retransmission is acknowledged but flagged.
	rec, body := doHeartbeat(t, handler, "/api/heartbeat/?api_key=secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate_ignored", body["status"])
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

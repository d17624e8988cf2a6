package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"powermon/models"
)

// tsLayout is a fixed-width UTC timestamp layout so that Firebase's
// lexicographic child ordering matches chronological ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// FirebaseStore persists monitoring state in Firebase Realtime Database.
//
// Layout:
//
//	sites/{siteID}               site record
//	heartbeats/{siteID}/{id}     heartbeat log
//	events/{siteID}/{id}         status-change log
//	timeline/{siteID}/{date}     timeline message records
type FirebaseStore struct {
	client *db.Client
	logger *zap.Logger
}

func NewFirebaseStore(ctx context.Context, dbURL, serviceAccountJSON string, logger *zap.Logger) (*FirebaseStore, error) {
	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseStore{
		client: client,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		ref := fs.client.NewRef("/")
		var data interface{}
		err := ref.Get(ctx, &data)

		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// siteRecord is the wire shape of a site in RTDB.
type siteRecord struct {
	ID                           string `json:"id"`
	Name                         string `json:"name"`
	HeartbeatPeriodSeconds       int    `json:"heartbeat_period_seconds"`
	GracePeriodSeconds           int    `json:"grace_period_seconds"`
	APIKey                       string `json:"api_key"`
	TelegramChatID               string `json:"telegram_chat_id"`
	AlertLanguage                string `json:"alert_language"`
	Status                       string `json:"current_power_status"`
	MonitoringStartedAt          string `json:"monitoring_started_at,omitempty"`
	LastHeartbeatAt              string `json:"last_heartbeat_at,omitempty"`
	LastStatusChangeAt           string `json:"last_status_change_at,omitempty"`
	AlertingEnabled              bool   `json:"alerting_enabled"`
	AlertingFailed               bool   `json:"alerting_failed"`
	OfflineDetectionDisabled     bool   `json:"offline_detection_disabled"`
	RouterReconnectWindowEnabled bool   `json:"router_reconnect_window_enabled"`
	CreatedAt                    string `json:"created_at,omitempty"`
	UpdatedAt                    string `json:"updated_at,omitempty"`
}

type heartbeatRecord struct {
	SiteID     string `json:"site_id"`
	ReceivedAt string `json:"received_at"`
}

type eventRecord struct {
	SiteID                       string `json:"site_id"`
	Kind                         string `json:"kind"`
	OccurredAt                   string `json:"occurred_at"`
	PreviousStateDurationSeconds *int64 `json:"previous_state_duration_seconds,omitempty"`
	AlertSent                    bool   `json:"alert_sent"`
	AlertSentAt                  string `json:"alert_sent_at,omitempty"`
}

type timelineRecord struct {
	SiteID          string `json:"site_id"`
	MessageID       int    `json:"message_id"`
	ForDate         string `json:"for_date"`
	IsPinned        bool   `json:"is_pinned"`
	LastRefreshedAt string `json:"last_refreshed_at"`
	CreatedAt       string `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func (r *siteRecord) toModel() *models.Site {
	site := &models.Site{
		ID:                           r.ID,
		Name:                         r.Name,
		HeartbeatPeriod:              time.Duration(r.HeartbeatPeriodSeconds) * time.Second,
		GracePeriod:                  time.Duration(r.GracePeriodSeconds) * time.Second,
		APIKey:                       r.APIKey,
		TelegramChatID:               r.TelegramChatID,
		AlertLanguage:                models.AlertLanguage(r.AlertLanguage),
		Status:                       models.PowerStatus(r.Status),
		MonitoringStartedAt:          parseTime(r.MonitoringStartedAt),
		LastHeartbeatAt:              parseTime(r.LastHeartbeatAt),
		LastStatusChangeAt:           parseTime(r.LastStatusChangeAt),
		AlertingEnabled:              r.AlertingEnabled,
		AlertingFailed:               r.AlertingFailed,
		OfflineDetectionDisabled:     r.OfflineDetectionDisabled,
		RouterReconnectWindowEnabled: r.RouterReconnectWindowEnabled,
	}
	if site.Status == "" {
		site.Status = models.StatusUnknown
	}
	if site.AlertLanguage == "" {
		site.AlertLanguage = models.LangEN
	}
	if t := parseTime(r.CreatedAt); t != nil {
		site.CreatedAt = *t
	}
	if t := parseTime(r.UpdatedAt); t != nil {
		site.UpdatedAt = *t
	}
	return site
}

func (fs *FirebaseStore) GetSite(ctx context.Context, id string) (*models.Site, error) {
	var rec siteRecord
	if err := fs.client.NewRef("sites/"+id).Get(ctx, &rec); err != nil {
		return nil, fmt.Errorf("error getting site %s: %w", id, err)
	}
	if rec.ID == "" {
		return nil, ErrNotFound
	}
	return rec.toModel(), nil
}

func (fs *FirebaseStore) GetSiteByAPIKey(ctx context.Context, apiKey string) (*models.Site, error) {
	var data map[string]siteRecord
	query := fs.client.NewRef("sites").OrderByChild("api_key").EqualTo(apiKey)
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error querying site by api key: %w", err)
	}
	for _, rec := range data {
		return rec.toModel(), nil
	}
	return nil, ErrNotFound
}

func (fs *FirebaseStore) ListMonitoredSites(ctx context.Context) ([]*models.Site, error) {
	var data map[string]siteRecord
	if err := fs.client.NewRef("sites").Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error listing sites: %w", err)
	}

	var sites []*models.Site
	for _, rec := range data {
		site := rec.toModel()
		if site.MonitoringStartedAt != nil {
			sites = append(sites, site)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites, nil
}

func (fs *FirebaseStore) UpdateSiteStatus(ctx context.Context, id string, upd SiteStatusUpdate) error {
	ref := fs.client.NewRef("sites/" + id)
	err := ref.Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var rec siteRecord
		if err := tn.Unmarshal(&rec); err != nil {
			return nil, err
		}
		if rec.ID == "" {
			return nil, ErrNotFound
		}
		if upd.Status != nil {
			rec.Status = string(*upd.Status)
		}
		if upd.MonitoringStartedAt != nil {
			rec.MonitoringStartedAt = formatTime(*upd.MonitoringStartedAt)
		}
		if upd.LastHeartbeatAt != nil {
			rec.LastHeartbeatAt = formatTime(*upd.LastHeartbeatAt)
		}
		if upd.LastStatusChangeAt != nil {
			rec.LastStatusChangeAt = formatTime(*upd.LastStatusChangeAt)
		}
		if upd.AlertingFailed != nil {
			rec.AlertingFailed = *upd.AlertingFailed
		}
		rec.UpdatedAt = formatTime(time.Now())
		return rec, nil
	})
	if err != nil {
		return fmt.Errorf("error updating site %s: %w", id, err)
	}
	return nil
}

func (fs *FirebaseStore) AppendHeartbeat(ctx context.Context, rec *models.HeartbeatRecord) error {
	wire := heartbeatRecord{
		SiteID:     rec.SiteID,
		ReceivedAt: formatTime(rec.ReceivedAt),
	}
	ref := fs.client.NewRef("heartbeats/" + rec.SiteID + "/" + rec.ID)
	if err := ref.Set(ctx, wire); err != nil {
		return fmt.Errorf("error appending heartbeat: %w", err)
	}
	return nil
}

func (fs *FirebaseStore) MostRecentHeartbeat(ctx context.Context, siteID string) (*models.HeartbeatRecord, error) {
	var data map[string]heartbeatRecord
	query := fs.client.NewRef("heartbeats/" + siteID).OrderByChild("received_at").LimitToLast(1)
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting most recent heartbeat: %w", err)
	}
	for id, rec := range data {
		at := parseTime(rec.ReceivedAt)
		if at == nil {
			continue
		}
		return &models.HeartbeatRecord{ID: id, SiteID: siteID, ReceivedAt: *at}, nil
	}
	return nil, nil
}

func (fs *FirebaseStore) PruneHeartbeats(ctx context.Context, before time.Time) (int, error) {
	var roots map[string]map[string]heartbeatRecord
	if err := fs.client.NewRef("heartbeats").Get(ctx, &roots); err != nil {
		return 0, fmt.Errorf("error reading heartbeat log: %w", err)
	}

	cutoff := formatTime(before)
	removed := 0
	for siteID, recs := range roots {
		deletes := make(map[string]interface{})
		for id, rec := range recs {
			if rec.ReceivedAt < cutoff {
				deletes[id] = nil
			}
		}
		if len(deletes) == 0 {
			continue
		}
		if err := fs.client.NewRef("heartbeats/"+siteID).Update(ctx, deletes); err != nil {
			return removed, fmt.Errorf("error pruning heartbeats for %s: %w", siteID, err)
		}
		removed += len(deletes)
	}
	return removed, nil
}

func (fs *FirebaseStore) AppendStatusChangeEvent(ctx context.Context, ev *models.StatusChangeEvent) error {
	wire := eventRecord{
		SiteID:     ev.SiteID,
		Kind:       string(ev.Kind),
		OccurredAt: formatTime(ev.OccurredAt),
		AlertSent:  ev.AlertSent,
	}
	if ev.PreviousStateDuration != nil {
		secs := int64(ev.PreviousStateDuration.Seconds())
		wire.PreviousStateDurationSeconds = &secs
	}
	if ev.AlertSentAt != nil {
		wire.AlertSentAt = formatTime(*ev.AlertSentAt)
	}

	ref := fs.client.NewRef("events/" + ev.SiteID + "/" + ev.ID)
	if err := ref.Set(ctx, wire); err != nil {
		return fmt.Errorf("error appending status change event: %w", err)
	}
	return nil
}

func (fs *FirebaseStore) MarkEventAlertSent(ctx context.Context, siteID, eventID string, at time.Time) error {
	ref := fs.client.NewRef("events/" + siteID + "/" + eventID)
	err := ref.Update(ctx, map[string]interface{}{
		"alert_sent":    true,
		"alert_sent_at": formatTime(at),
	})
	if err != nil {
		return fmt.Errorf("error marking event alert sent: %w", err)
	}
	return nil
}

func (r *eventRecord) toModel(id string) *models.StatusChangeEvent {
	ev := &models.StatusChangeEvent{
		ID:          id,
		SiteID:      r.SiteID,
		Kind:        models.EventKind(r.Kind),
		AlertSent:   r.AlertSent,
		AlertSentAt: parseTime(r.AlertSentAt),
	}
	if at := parseTime(r.OccurredAt); at != nil {
		ev.OccurredAt = *at
	}
	if r.PreviousStateDurationSeconds != nil {
		d := time.Duration(*r.PreviousStateDurationSeconds) * time.Second
		ev.PreviousStateDuration = &d
	}
	return ev
}

func (fs *FirebaseStore) StatusChangeEventsInRange(ctx context.Context, siteID string, from, to time.Time) ([]*models.StatusChangeEvent, error) {
	var data map[string]eventRecord
	query := fs.client.NewRef("events/" + siteID).
		OrderByChild("occurred_at").
		StartAt(formatTime(from)).
		EndAt(formatTime(to))
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}

	var out []*models.StatusChangeEvent
	for id, rec := range data {
		ev := rec.toModel(id)
		if !ev.OccurredAt.Before(from) && ev.OccurredAt.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (fs *FirebaseStore) LatestEventBefore(ctx context.Context, siteID string, t time.Time) (*models.StatusChangeEvent, error) {
	// EndAt is inclusive; fetch two and filter to strictly-before.
	var data map[string]eventRecord
	query := fs.client.NewRef("events/" + siteID).
		OrderByChild("occurred_at").
		EndAt(formatTime(t)).
		LimitToLast(2)
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error querying latest event: %w", err)
	}

	var latest *models.StatusChangeEvent
	for id, rec := range data {
		ev := rec.toModel(id)
		if !ev.OccurredAt.Before(t) {
			continue
		}
		if latest == nil || ev.OccurredAt.After(latest.OccurredAt) {
			latest = ev
		}
	}
	return latest, nil
}

func (fs *FirebaseStore) GetTimelineMessage(ctx context.Context, siteID, forDate string) (*models.TimelineMessage, error) {
	var rec timelineRecord
	if err := fs.client.NewRef("timeline/"+siteID+"/"+forDate).Get(ctx, &rec); err != nil {
		return nil, fmt.Errorf("error getting timeline message: %w", err)
	}
	if rec.ForDate == "" {
		return nil, nil
	}
	msg := &models.TimelineMessage{
		SiteID:    rec.SiteID,
		MessageID: rec.MessageID,
		ForDate:   rec.ForDate,
		IsPinned:  rec.IsPinned,
	}
	if t := parseTime(rec.LastRefreshedAt); t != nil {
		msg.LastRefreshedAt = *t
	}
	if t := parseTime(rec.CreatedAt); t != nil {
		msg.CreatedAt = *t
	}
	return msg, nil
}

func (fs *FirebaseStore) UpsertTimelineMessage(ctx context.Context, msg *models.TimelineMessage) error {
	wire := timelineRecord{
		SiteID:          msg.SiteID,
		MessageID:       msg.MessageID,
		ForDate:         msg.ForDate,
		IsPinned:        msg.IsPinned,
		LastRefreshedAt: formatTime(msg.LastRefreshedAt),
		CreatedAt:       formatTime(msg.CreatedAt),
	}
	ref := fs.client.NewRef("timeline/" + msg.SiteID + "/" + msg.ForDate)
	if err := ref.Set(ctx, wire); err != nil {
		return fmt.Errorf("error upserting timeline message: %w", err)
	}
	return nil
}

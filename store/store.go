package store

import (
	"context"
	"errors"
	"time"

	"powermon/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// SiteStatusUpdate is a partial update of a site's status fields.
// Nil fields are left untouched. Applied atomically per site.
type SiteStatusUpdate struct {
	Status              *models.PowerStatus
	MonitoringStartedAt *time.Time
	LastHeartbeatAt     *time.Time
	LastStatusChangeAt  *time.Time
	AlertingFailed      *bool
}

// Store is the durable record of sites, heartbeats, status changes and
// timeline messages. The monitoring core owns all writes to site status
// fields; everything else may only read them.
type Store interface {
	GetSite(ctx context.Context, id string) (*models.Site, error)
	GetSiteByAPIKey(ctx context.Context, apiKey string) (*models.Site, error)

	// ListMonitoredSites returns sites whose monitoring has started
	// (monitoringStartedAt is set).
	ListMonitoredSites(ctx context.Context) ([]*models.Site, error)

	UpdateSiteStatus(ctx context.Context, id string, upd SiteStatusUpdate) error

	AppendHeartbeat(ctx context.Context, rec *models.HeartbeatRecord) error

	// MostRecentHeartbeat returns nil, nil when the site has no heartbeats yet.
	MostRecentHeartbeat(ctx context.Context, siteID string) (*models.HeartbeatRecord, error)

	// PruneHeartbeats removes heartbeat records received before the cutoff
	// and returns how many were removed.
	PruneHeartbeats(ctx context.Context, before time.Time) (int, error)

	AppendStatusChangeEvent(ctx context.Context, ev *models.StatusChangeEvent) error
	MarkEventAlertSent(ctx context.Context, siteID, eventID string, at time.Time) error

	// StatusChangeEventsInRange returns events with from <= occurredAt < to,
	// ordered by occurredAt ascending.
	StatusChangeEventsInRange(ctx context.Context, siteID string, from, to time.Time) ([]*models.StatusChangeEvent, error)

	// LatestEventBefore returns the most recent event strictly before t,
	// or nil, nil when there is none.
	LatestEventBefore(ctx context.Context, siteID string, t time.Time) (*models.StatusChangeEvent, error)

	// GetTimelineMessage returns nil, nil when no message exists for the date.
	GetTimelineMessage(ctx context.Context, siteID, forDate string) (*models.TimelineMessage, error)
	UpsertTimelineMessage(ctx context.Context, msg *models.TimelineMessage) error
}

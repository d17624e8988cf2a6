package models

import (
	"time"
)

// PowerStatus represents the power state of a site.
type PowerStatus string

const (
	StatusUnknown PowerStatus = "unknown"
	StatusOn      PowerStatus = "on"
	StatusOff     PowerStatus = "off"
)

// EventKind represents the direction of a status change.
type EventKind string

const (
	EventToOn  EventKind = "to_on"
	EventToOff EventKind = "to_off"
)

// KindFor returns the event kind that commits the given target status.
func KindFor(target PowerStatus) EventKind {
	if target == StatusOff {
		return EventToOff
	}
	return EventToOn
}

// AlertLanguage selects the language used for alerts and diagrams.
type AlertLanguage string

const (
	LangEN AlertLanguage = "en"
	LangRU AlertLanguage = "ru"
	LangUK AlertLanguage = "uk"
)

// Site is a monitored location with one heartbeat probe.
//
// Status fields are owned by the monitoring core and must only change
// through the state machine; direct writes bypass the per-site locking
// discipline and the status-change log.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Heartbeat configuration (both at least 10 seconds).
	HeartbeatPeriod time.Duration `json:"heartbeat_period"`
	GracePeriod     time.Duration `json:"grace_period"`

	// Device authentication
	APIKey string `json:"api_key"`

	// Telegram configuration
	TelegramChatID string        `json:"telegram_chat_id"`
	AlertLanguage  AlertLanguage `json:"alert_language"`

	// Power status tracking
	Status              PowerStatus `json:"status"`
	MonitoringStartedAt *time.Time  `json:"monitoring_started_at,omitempty"`
	LastHeartbeatAt     *time.Time  `json:"last_heartbeat_at,omitempty"`
	LastStatusChangeAt  *time.Time  `json:"last_status_change_at,omitempty"`

	// Alerting status
	AlertingEnabled bool `json:"alerting_enabled"`
	AlertingFailed  bool `json:"alerting_failed"`

	// Maintenance controls
	OfflineDetectionDisabled bool `json:"offline_detection_disabled"`

	// Extra silence tolerance while a router reboots after power restoration,
	// for sites whose network gear has no UPS.
	RouterReconnectWindowEnabled bool `json:"router_reconnect_window_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMonitoringActive reports whether the first heartbeat has ever arrived.
func (s *Site) IsMonitoringActive() bool {
	return s.MonitoringStartedAt != nil
}

// Timeout is the total silence tolerated before a site is declared offline.
func (s *Site) Timeout() time.Duration {
	return s.HeartbeatPeriod + s.GracePeriod
}

// HeartbeatRecord is one received heartbeat signal. Append-only.
type HeartbeatRecord struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// StatusChangeEvent records one committed power status transition.
// Append-only; the authoritative source for the weekly timeline.
type StatusChangeEvent struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	// Duration of the state that just ended. Nil only for the very first
	// transition out of UNKNOWN.
	PreviousStateDuration *time.Duration `json:"previous_state_duration,omitempty"`

	AlertSent   bool       `json:"alert_sent"`
	AlertSentAt *time.Time `json:"alert_sent_at,omitempty"`
}

// TimelineMessage tracks the Telegram message carrying a site's weekly
// diagram for one calendar date. One per (site, date).
type TimelineMessage struct {
	SiteID          string    `json:"site_id"`
	MessageID       int       `json:"message_id"`
	ForDate         string    `json:"for_date"` // local date, "2006-01-02"
	IsPinned        bool      `json:"is_pinned"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// DateKey formats a local-time instant as a TimelineMessage date key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

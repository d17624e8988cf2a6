package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"powermon/models"
)

// MemoryStore is an in-memory Store. Used for tests and single-process
// deployments without Firebase configured; state does not survive restart.
type MemoryStore struct {
	mu         sync.RWMutex
	sites      map[string]*models.Site
	heartbeats map[string][]*models.HeartbeatRecord // keyed by site ID, append order
	events     map[string][]*models.StatusChangeEvent
	timeline   map[string]*models.TimelineMessage // keyed by siteID + "/" + forDate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:      make(map[string]*models.Site),
		heartbeats: make(map[string][]*models.HeartbeatRecord),
		events:     make(map[string][]*models.StatusChangeEvent),
		timeline:   make(map[string]*models.TimelineMessage),
	}
}

// PutSite inserts or replaces a site record. Provisioning hook; the
// monitoring core itself never creates sites.
func (m *MemoryStore) PutSite(site *models.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *site
	m.sites[site.ID] = &cp
}

func (m *MemoryStore) GetSite(ctx context.Context, id string) (*models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	site, ok := m.sites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *site
	return &cp, nil
}

func (m *MemoryStore) GetSiteByAPIKey(ctx context.Context, apiKey string) (*models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, site := range m.sites {
		if site.APIKey == apiKey {
			cp := *site
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListMonitoredSites(ctx context.Context) ([]*models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sites []*models.Site
	for _, site := range m.sites {
		if site.MonitoringStartedAt != nil {
			cp := *site
			sites = append(sites, &cp)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites, nil
}

func (m *MemoryStore) UpdateSiteStatus(ctx context.Context, id string, upd SiteStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	site, ok := m.sites[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		site.Status = *upd.Status
	}
	if upd.MonitoringStartedAt != nil {
		site.MonitoringStartedAt = upd.MonitoringStartedAt
	}
	if upd.LastHeartbeatAt != nil {
		site.LastHeartbeatAt = upd.LastHeartbeatAt
	}
	if upd.LastStatusChangeAt != nil {
		site.LastStatusChangeAt = upd.LastStatusChangeAt
	}
	if upd.AlertingFailed != nil {
		site.AlertingFailed = *upd.AlertingFailed
	}
	site.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendHeartbeat(ctx context.Context, rec *models.HeartbeatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.heartbeats[rec.SiteID] = append(m.heartbeats[rec.SiteID], &cp)
	return nil
}

func (m *MemoryStore) MostRecentHeartbeat(ctx context.Context, siteID string) (*models.HeartbeatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.heartbeats[siteID]
	if len(recs) == 0 {
		return nil, nil
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if rec.ReceivedAt.After(latest.ReceivedAt) {
			latest = rec
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) PruneHeartbeats(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for siteID, recs := range m.heartbeats {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.ReceivedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		m.heartbeats[siteID] = kept
	}
	return removed, nil
}

func (m *MemoryStore) AppendStatusChangeEvent(ctx context.Context, ev *models.StatusChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.events[ev.SiteID] = append(m.events[ev.SiteID], &cp)
	return nil
}

func (m *MemoryStore) MarkEventAlertSent(ctx context.Context, siteID, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.events[siteID] {
		if ev.ID == eventID {
			ev.AlertSent = true
			sentAt := at
			ev.AlertSentAt = &sentAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) StatusChangeEventsInRange(ctx context.Context, siteID string, from, to time.Time) ([]*models.StatusChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.StatusChangeEvent
	for _, ev := range m.events[siteID] {
		if !ev.OccurredAt.Before(from) && ev.OccurredAt.Before(to) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryStore) LatestEventBefore(ctx context.Context, siteID string, t time.Time) (*models.StatusChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.StatusChangeEvent
	for _, ev := range m.events[siteID] {
		if ev.OccurredAt.Before(t) {
			if latest == nil || ev.OccurredAt.After(latest.OccurredAt) {
				latest = ev
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) GetTimelineMessage(ctx context.Context, siteID, forDate string) (*models.TimelineMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.timeline[siteID+"/"+forDate]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (m *MemoryStore) UpsertTimelineMessage(ctx context.Context, msg *models.TimelineMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.timeline[msg.SiteID+"/"+msg.ForDate] = &cp
	return nil
}

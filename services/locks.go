package services

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// siteLocks hands out one mutex per site ID. Sites are independent units
// of concurrency; racing triggers for the same site (heartbeat vs sweep)
// serialize here, different sites never contend.
type siteLocks struct {
	locks cmap.ConcurrentMap[string, *sync.Mutex]
}

func newSiteLocks() *siteLocks {
	return &siteLocks{
		locks: cmap.New[*sync.Mutex](),
	}
}

// get returns the mutex for a site, creating it on first use.
func (s *siteLocks) get(siteID string) *sync.Mutex {
	if mu, ok := s.locks.Get(siteID); ok {
		return mu
	}
	s.locks.SetIfAbsent(siteID, &sync.Mutex{})
	mu, _ := s.locks.Get(siteID)
	return mu
}

package location

import (
	"context"
	"sort"
	"sync"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
)

// MemoryStore keeps current positions in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string]models.LocationSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string]models.LocationSample)}
}

func (m *MemoryStore) Set(ctx context.Context, s models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[s.DriverID] = s
	return nil
}

func (m *MemoryStore) Current(ctx context.Context, driverID string) (models.LocationSample, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[driverID]
	return s, ok, nil
}

// Nearby returns drivers within radiusMeters of loc, nearest first.
func (m *MemoryStore) Nearby(ctx context.Context, loc models.Coord, radiusMeters float64, limit int) ([]models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type withDist struct {
		s models.LocationSample
		d float64
	}
	var found []withDist
	for _, s := range m.samples {
		d := routing.Haversine(s.Loc.Lat, s.Loc.Lon, loc.Lat, loc.Lon)
		if d <= radiusMeters {
			found = append(found, withDist{s: s, d: d})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].d < found[j].d })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]models.LocationSample, 0, len(found))
	for _, f := range found {
		out = append(out, f.s)
	}
	return out, nil
}

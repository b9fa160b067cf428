// Package dispatch selects which drivers are offered a new order proposal.
// Selection is advisory: it only decides who gets notified, the order state
// machine decides who wins.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
)

// CandidateSource returns drivers whose last known position is within
// radiusMeters of loc, nearest first.
type CandidateSource interface {
	Nearby(ctx context.Context, loc models.Coord, radiusMeters float64, limit int) ([]models.LocationSample, error)
}

type Selector struct {
	Source          CandidateSource
	RadiusMeters    float64
	TopN            int
	DefaultSpeedMps float64
	// MaxSampleAge drops drivers whose last report is older than this;
	// their position is too unreliable to offer against.
	MaxSampleAge time.Duration
}

func NewSelector(src CandidateSource, defaultSpeedMps float64) *Selector {
	return &Selector{
		Source:          src,
		RadiusMeters:    5000,
		TopN:            10,
		DefaultSpeedMps: defaultSpeedMps,
		MaxSampleAge:    2 * time.Minute,
	}
}

// SelectDrivers ranks nearby drivers by estimated time to the pickup point,
// penalized by how old their last position report is. Returns at most TopN
// driver ids, best first. An empty result just means nobody gets notified;
// the proposal still exists and can be read from the order topic.
func (s *Selector) SelectDrivers(ctx context.Context, pickup models.Coord) ([]string, error) {
	speed := s.DefaultSpeedMps
	if speed <= 0 {
		speed = 8.0
	}
	cands, err := s.Source.Nearby(ctx, pickup, s.RadiusMeters, s.TopN*2)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	type scored struct {
		driverID string
		cost     float64
	}
	ranked := make([]scored, 0, len(cands))
	for _, c := range cands {
		age := now.Sub(c.CapturedAt)
		if s.MaxSampleAge > 0 && age > s.MaxSampleAge {
			continue
		}
		etaSec := routing.Haversine(c.Loc.Lat, c.Loc.Lon, pickup.Lat, pickup.Lon) / speed
		cost := etaSec + age.Seconds()
		ranked = append(ranked, scored{driverID: c.DriverID, cost: cost})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].cost < ranked[j].cost })

	n := len(ranked)
	if s.TopN > 0 && n > s.TopN {
		n = s.TopN
	}
	out := make([]string, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.driverID)
	}
	return out, nil
}

package routing

import (
	"context"
	"math"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Estimate resolves distance and duration between two points, preferring
// the routing collaborator and falling back to a straight-line estimate at
// the default speed when it is unavailable.
func Estimate(ctx context.Context, r Router, origin, dest models.Coord, defaultSpeedMps float64) models.Route {
	if r != nil {
		if route, err := r.Route(ctx, origin, dest); err == nil {
			return route
		}
	}
	if defaultSpeedMps <= 0 {
		defaultSpeedMps = 8.0 // ~28.8 km/h city default
	}
	d := Haversine(origin.Lat, origin.Lon, dest.Lat, dest.Lon)
	return models.Route{
		Origin:          origin,
		Destination:     dest,
		DistanceMeters:  d,
		DurationSeconds: d / defaultSpeedMps,
		ComputedAt:      time.Now(),
		Stale:           true, // estimate, not a routed result
	}
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

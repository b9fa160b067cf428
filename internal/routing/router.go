// Package routing talks to the external geo-routing service and keeps
// per-order driver routes fresh without flooding the service.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Router is the geo-routing collaborator contract. Implementations fail
// with an ExternalServiceError on timeout or no-route.
type Router interface {
	Route(ctx context.Context, origin, dest models.Coord) (models.Route, error)
}

// OSRMRouter performs route lookups against an OSRM HTTP server.
type OSRMRouter struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMRouter(endpoint string) *OSRMRouter {
	return &OSRMRouter{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Route queries OSRM /route between the points, returning the primary
// route's polyline geometry, distance and duration.
func (o *OSRMRouter) Route(ctx context.Context, origin, dest models.Coord) (models.Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full",
		o.Endpoint, origin.Lon, origin.Lat, dest.Lon, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return models.Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, apperrors.External("osrm", err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Geometry string  `json:"geometry"`
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, apperrors.External("osrm", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, apperrors.External("osrm", fmt.Errorf("no route: %v", out.Code))
	}
	r := out.Routes[0]
	return models.Route{
		Origin:          origin,
		Destination:     dest,
		Geometry:        r.Geometry,
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
		ComputedAt:      time.Now(),
	}, nil
}

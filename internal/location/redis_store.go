package location

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// RedisStore keeps current positions in Redis: GEOADD for the coordinate
// plus a metadata hash for capture time, heading and speed.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password, key string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: key}
}

func (r *RedisStore) Set(ctx context.Context, s models.LocationSample) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: s.Loc.Lon, Latitude: s.Loc.Lat, Name: s.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(s.DriverID), map[string]interface{}{
		"captured_at": s.CapturedAt.Format(time.RFC3339Nano),
		"heading_deg": strconv.FormatFloat(s.HeadingDeg, 'f', -1, 64),
		"speed_mps":   strconv.FormatFloat(s.SpeedMps, 'f', -1, 64),
	}).Err()
}

func (r *RedisStore) Current(ctx context.Context, driverID string) (models.LocationSample, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.LocationSample{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.LocationSample{}, false, nil
	}
	s := models.LocationSample{
		DriverID: driverID,
		Loc:      models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude},
	}
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.LocationSample{}, false, err
	}
	if v, ok := m["captured_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.CapturedAt = ts
		}
	}
	if v, ok := m["heading_deg"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.HeadingDeg = f
		}
	}
	if v, ok := m["speed_mps"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.SpeedMps = f
		}
	}
	return s, true, nil
}

// Nearby runs a GEORADIUS query around loc. Capture times come from the
// per-driver metadata hash; drivers with no metadata get a zero capture
// time and are filtered out by the caller's freshness policy.
func (r *RedisStore) Nearby(ctx context.Context, loc models.Coord, radiusMeters float64, limit int) ([]models.LocationSample, error) {
	res, err := r.client.GeoRadius(ctx, r.key, loc.Lon, loc.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.LocationSample, 0, len(res))
	for _, g := range res {
		s := models.LocationSample{
			DriverID: g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["captured_at"]; ok {
				if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
					s.CapturedAt = ts
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:loc:" + id }

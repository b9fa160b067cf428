package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/orders"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := orders.NewService(orders.NewMemoryStore(), bus.NewMemoryBus(), logger, time.Minute)
	t.Cleanup(svc.Close)
	return NewServer(Deps{Orders: svc, SpeedMps: 10, Logger: logger})
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestProposeQuotesFareAndDistance(t *testing.T) {
	s := testServer(t)

	// roughly 1km due north, no fare or distance supplied
	rec := postJSON(t, s, "/api/v1/orders",
		`{"customer_id":"c1","pickup":{"lat":0,"lon":0},"dropoff":{"lat":0.009,"lon":0}}`)
	if rec.Code != 201 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var o models.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.DistanceKm < 0.9 || o.DistanceKm > 1.1 {
		t.Fatalf("quoted distance %v km, want ~1", o.DistanceKm)
	}
	if o.FareCents < 350 || o.FareCents > 390 {
		t.Fatalf("quoted fare %d cents, want ~370", o.FareCents)
	}
}

func TestProposeKeepsClientFare(t *testing.T) {
	s := testServer(t)

	rec := postJSON(t, s, "/api/v1/orders",
		`{"customer_id":"c1","pickup":{"lat":0,"lon":0},"dropoff":{"lat":1,"lon":1},"fare_cents":999,"distance_km":2.5}`)
	if rec.Code != 201 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var o models.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.FareCents != 999 || o.DistanceKm != 2.5 {
		t.Fatalf("client quote replaced: fare=%d distance=%v", o.FareCents, o.DistanceKm)
	}
}

func TestRequestIDEchoedToClient(t *testing.T) {
	s := testServer(t)

	rec := postJSON(t, s, "/api/v1/orders", `{"customer_id":"c1"}`)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no request id on response")
	}

	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(`{"customer_id":"c1"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

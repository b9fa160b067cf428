package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// scriptedReader returns its messages in order, then blocks until ctx ends.
type scriptedReader struct {
	msgs []kafka.Message
	i    int
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

type recordingSink struct {
	samples []models.LocationSample
	accept  bool
	err     error
}

func (s *recordingSink) Report(ctx context.Context, sample models.LocationSample) (bool, error) {
	s.samples = append(s.samples, sample)
	return s.accept, s.err
}

func encode(t *testing.T, s models.LocationSample) kafka.Message {
	t.Helper()
	v, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Value: v}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunFeedsSamplesToSink(t *testing.T) {
	at := time.Now().UTC()
	r := &scriptedReader{msgs: []kafka.Message{
		encode(t, models.LocationSample{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, CapturedAt: at}),
		encode(t, models.LocationSample{DriverID: "d2", Loc: models.Coord{Lat: 3, Lon: 4}, CapturedAt: at}),
	}}
	sink := &recordingSink{accept: true}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	run(ctx, r, sink, discard())

	if len(sink.samples) != 2 {
		t.Fatalf("sink got %d samples, want 2", len(sink.samples))
	}
	if sink.samples[0].DriverID != "d1" || sink.samples[1].DriverID != "d2" {
		t.Fatalf("samples out of order: %+v", sink.samples)
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Value: []byte("not json")},
		encode(t, models.LocationSample{DriverID: "d1", CapturedAt: time.Now()}),
	}}
	sink := &recordingSink{accept: true}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	run(ctx, r, sink, discard())

	if len(sink.samples) != 1 {
		t.Fatalf("sink got %d samples, want 1", len(sink.samples))
	}
}

func TestRunSurvivesSinkErrors(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		encode(t, models.LocationSample{DriverID: "d1", CapturedAt: time.Now()}),
		encode(t, models.LocationSample{DriverID: "d2", CapturedAt: time.Now()}),
	}}
	sink := &recordingSink{err: errors.New("store down")}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	run(ctx, r, sink, discard())

	if len(sink.samples) != 2 {
		t.Fatalf("a sink error stopped the loop: got %d samples", len(sink.samples))
	}
}

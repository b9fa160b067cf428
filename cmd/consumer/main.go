// The consumer ingests driver location samples from Kafka and feeds them to
// the location tracker: freshness check, position store, fan-out, route
// recompute. Runs separately from the API server so bursts of position
// traffic never contend with request handling.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/config"
	"github.com/velosdrop/velosdrop-sub001/internal/location"
	"github.com/velosdrop/velosdrop-sub001/internal/logging"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/orders"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_samples_consumed_total",
		Help: "Total location samples consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_samples_invalid_total",
		Help: "Total invalid sample records received",
	})
	samplesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_samples_dropped_total",
		Help: "Total samples discarded as stale",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, samplesDropped)
}

// sampleSink is the slice of the tracker the loop needs; tests fake it.
type sampleSink interface {
	Report(ctx context.Context, s models.LocationSample) (bool, error)
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	var sampleTopic string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&sampleTopic, "sample-topic", "driver-locations", "kafka topic carrying raw location samples")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var posStore location.PositionStore
	if cfg.RedisAddr != "" {
		rs := location.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rs.Close()
		posStore = rs
	} else {
		posStore = location.NewMemoryStore()
	}

	var activeOrder location.ActiveOrderFunc
	var engineCheck func(ctx context.Context, orderID string, kind routing.DestKind) bool
	if cfg.PGDSN != "" {
		db, err := orders.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := orders.NewPostgresStore(db)
		activeOrder = store.ActiveForDriver
		engineCheck = func(ctx context.Context, orderID string, kind routing.DestKind) bool {
			o, err := store.Get(ctx, orderID)
			if err != nil {
				return false
			}
			_, k, ok := routing.DestFor(o)
			return ok && k == kind
		}
	} else {
		logger.Warn("no PG_DSN set, samples will not be tied to orders")
		engineCheck = func(context.Context, string, routing.DestKind) bool { return false }
	}

	var b bus.Bus
	if len(cfg.KafkaBrokers) > 0 {
		kb := bus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup+"-ingest", logger)
		defer kb.Close()
		b = kb
	} else {
		b = bus.NewMemoryBus()
	}

	var router routing.Router
	if cfg.OSRMEndpoint != "" {
		router = routing.NewOSRMRouter(cfg.OSRMEndpoint)
	}
	engine := routing.NewEngine(router, b, logger, cfg.DefaultSpeedMps, engineCheck)
	tracker := location.NewTracker(posStore, b, engine, activeOrder, logger)

	go func() {
		tick := time.NewTicker(10 * time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				tracker.PruneIdle(30 * time.Minute)
				engine.PruneIdle(30 * time.Minute)
			}
		}
	}()

	go serveMetrics(metricsAddr, logger)

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    sampleTopic,
		GroupID:  cfg.KafkaGroup + "-locations",
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", sampleTopic, "brokers", brokers)
	run(ctx, r, tracker, logger)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func run(ctx context.Context, r messageReader, sink sampleSink, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var s models.LocationSample
		if err := json.Unmarshal(m.Value, &s); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid sample", "error", err)
			continue
		}
		accepted, err := sink.Report(ctx, s)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("report failed", "driver_id", s.DriverID, "error", err)
			continue
		}
		if !accepted {
			samplesDropped.Inc()
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

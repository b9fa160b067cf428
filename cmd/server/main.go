package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/chat"
	"github.com/velosdrop/velosdrop-sub001/internal/config"
	"github.com/velosdrop/velosdrop-sub001/internal/dispatch"
	httpapi "github.com/velosdrop/velosdrop-sub001/internal/http"
	"github.com/velosdrop/velosdrop-sub001/internal/location"
	"github.com/velosdrop/velosdrop-sub001/internal/logging"
	"github.com/velosdrop/velosdrop-sub001/internal/media"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/orders"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
	"github.com/velosdrop/velosdrop-sub001/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// persistent store: Postgres when configured, in-memory otherwise
	var db *sql.DB
	var orderStore orders.Store
	var chatStore chat.Store
	var walletStore wallet.Store
	if cfg.PGDSN != "" {
		db, err = orders.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := applyMigrations(db); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}
		orderStore = orders.NewPostgresStore(db)
		chatStore = chat.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
	} else {
		mem := orders.NewMemoryStore()
		orderStore = mem
		chatStore = chat.NewMemoryStore()
		walletStore = wallet.NewMemoryStore(mem)
		logger.Warn("no PG_DSN set, using in-memory stores")
	}

	// message bus: Kafka when brokers are configured
	var b bus.Bus
	if len(cfg.KafkaBrokers) > 0 {
		kb := bus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, logger)
		defer kb.Close()
		go kb.Run(ctx, cfg.KafkaBrokers)
		b = kb
	} else {
		b = bus.NewMemoryBus()
		logger.Warn("no KAFKA_BROKERS set, using in-process bus")
	}

	orderSvc := orders.NewService(orderStore, b, logger, cfg.OfferTTL)
	defer orderSvc.Close()

	var router routing.Router
	if cfg.OSRMEndpoint != "" {
		router = routing.NewOSRMRouter(cfg.OSRMEndpoint)
	}
	engine := routing.NewEngine(router, b, logger, cfg.DefaultSpeedMps, func(ctx context.Context, orderID string, kind routing.DestKind) bool {
		o, err := orderStore.Get(ctx, orderID)
		if err != nil {
			return false
		}
		_, k, ok := routing.DestFor(o)
		return ok && k == kind
	})

	var posStore location.PositionStore
	var candidates dispatch.CandidateSource
	if cfg.RedisAddr != "" {
		rs := location.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rs.Close()
		posStore = rs
		candidates = rs
	} else {
		ms := location.NewMemoryStore()
		posStore = ms
		candidates = ms
	}
	tracker := location.NewTracker(posStore, b, engine, orderStore.ActiveForDriver, logger)
	selector := dispatch.NewSelector(candidates, cfg.DefaultSpeedMps)
	orderSvc.OnTerminal(engine.Forget)

	chatMgr := chat.NewManager(chatStore, b, func(ctx context.Context, orderID string) (*models.Order, error) {
		return orderStore.Get(ctx, orderID)
	}, logger)

	settler := wallet.NewSettler(walletStore, func(ctx context.Context, orderID string) (int64, error) {
		o, err := orderStore.Get(ctx, orderID)
		if err != nil {
			return 0, err
		}
		return o.FareCents, nil
	}, b, chatMgr, logger, cfg.CommissionRate, cfg.RequireProof)
	settler.OnComplete(engine.Forget)

	topup := wallet.NewTopupService(walletStore, wallet.NewStripeProvider(), cfg.Currency)
	uploader := media.NewHTTPUploader(cfg.StorageEndpoint, cfg.StorageBaseURL)

	// restart-safe backstop for the per-order expiry timers
	c := cron.New()
	if _, err := c.AddFunc(cfg.ExpirySweep, func() { orderSvc.SweepExpired(ctx) }); err != nil {
		logger.Error("bad expiry sweep spec", "error", err)
		os.Exit(1)
	}
	_, _ = c.AddFunc("@every 10m", func() {
		tracker.PruneIdle(30 * time.Minute)
		engine.PruneIdle(30 * time.Minute)
	})
	c.Start()
	defer c.Stop()

	api := httpapi.NewServer(httpapi.Deps{
		Orders:   orderSvc,
		Tracker:  tracker,
		Chat:     chatMgr,
		Settler:  settler,
		Wallet:   walletStore,
		Topup:    topup,
		Uploader: uploader,
		Bus:      b,
		Dispatch: selector,
		Router:   router,
		SpeedMps: cfg.DefaultSpeedMps,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	logger.Info("shut down")
}

func applyMigrations(db *sql.DB) error {
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

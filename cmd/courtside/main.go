package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"courtside/internal/api"
	"courtside/internal/availability"
	"courtside/internal/booking"
	"courtside/internal/config"
	"courtside/internal/events"
	"courtside/internal/lock"
	"courtside/internal/logging"
	"courtside/internal/metrics"
	"courtside/internal/mockserver"
	"courtside/internal/models"
	"courtside/internal/payment"
	"courtside/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	devMode := flag.Bool("dev", false, "run against an in-process reservation server")
	devAddr := flag.String("dev-addr", "127.0.0.1:8900", "listen address for the dev server")
	flag.Parse()

	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *devMode {
		devURL, err := startDevServer(ctx, *devAddr, &logger)
		if err != nil {
			return err
		}
		cfg.Server.BaseURL = devURL
		logger.Info().Str("base_url", devURL).Msg("dev mode: using in-process reservation server")
	}

	cache, cleanup, err := initCache(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer cleanup()

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		startMetricsListener(cfg.Monitoring.PrometheusPort, &logger)
	}

	client := api.NewClient(cfg.Server)
	if err := client.Me(ctx); err != nil {
		logger.Warn().Err(err).Msg("session probe failed; continuing, requests may 401")
	}

	eventBus := events.NewBus()
	subscribeHoldEvents(eventBus, &logger)

	controller := lock.NewController(client, nil, eventBus, lock.RealClock{}, client.SessionID(), &logger)

	retry := api.RetryPolicy{
		MaxRetries:    cfg.Availability.FetchRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
	availabilitySvc := availability.NewService(client, cache, cfg.Availability.Staleness, cfg.Cache.MaxAge, retry, &logger)
	availabilitySvc.SetHoldGuard(controller)
	availabilitySvc.OnSnapshot(func(vendorID, date string, groups []models.ResourceGroup) {
		controller.ApplySnapshot(ctx, groups)
	})
	controller.SetCache(availabilitySvc)

	bookingSvc := booking.NewService(client, cache, models.DefaultBookingsTTL, &logger)

	exporter := booking.NewExporter(cfg.Exports.Path, &logger)
	subscribeBookingExport(ctx, eventBus, bookingSvc, exporter, &logger)

	availabilitySvc.StartRefresher(ctx, cfg.Availability.RefreshInterval)

	logger.Info().
		Str("server", cfg.Server.BaseURL).
		Str("session_id", client.SessionID()).
		Msg("courtside started")

	if *devMode {
		paymentSvc := payment.NewService(client, controller, availabilitySvc, bookingSvc, eventBus, retry, lock.RealClock{}, &logger)
		if err := runDemoFlow(ctx, availabilitySvc, controller, paymentSvc, bookingSvc, &logger); err != nil {
			logger.Error().Err(err).Msg("demo flow failed")
		}
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()
	return cfg, logger, closer, nil
}

// initCache builds the tiered cache: an in-process hot layer over Redis or
// sqlite, whichever the config asks for. With neither, memory alone serves.
func initCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, func(), error) {
	hot := store.NewMemoryStore()
	cleanup := func() {}

	if cfg.Redis.Enabled {
		redisClient := store.NewRedisClient(cfg.Redis)
		if err := store.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, starting degraded")
		}
		cleanup = func() { _ = redisClient.Close() }
		return store.NewTieredStore(hot, store.NewRedisStore(redisClient), logger), cleanup, nil
	}

	if cfg.Cache.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
			return nil, nil, err
		}
		sqliteStore, err := store.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.MaxAge)
		if err != nil {
			return nil, nil, err
		}
		if keys, err := sqliteStore.Keys(ctx, ""); err == nil {
			logger.Info().Int("entries", len(keys)).Str("path", cfg.Cache.Path).Msg("persistent cache opened")
		}
		cleanup = func() { _ = sqliteStore.Close() }
		return store.NewTieredStore(hot, sqliteStore, logger), cleanup, nil
	}

	return hot, cleanup, nil
}

func startMetricsListener(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics listener error")
		}
	}()
}

// startDevServer runs the in-process reservation server seeded with a day of
// slots for one demo venue.
func startDevServer(ctx context.Context, addr string, logger *zerolog.Logger) (string, error) {
	srv := mockserver.New(logger)
	srv.Seed(demoSlots())

	// Bind before returning so the first client request cannot race the
	// listener.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	httpServer := &http.Server{Handler: srv.Handler()}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("dev server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	return "http://" + addr, nil
}

// runDemoFlow walks one reservation end to end against the dev server:
// browse, lock, pay, list. It doubles as a smoke test of the whole pipeline.
func runDemoFlow(
	ctx context.Context,
	availabilitySvc *availability.Service,
	controller *lock.Controller,
	paymentSvc *payment.Service,
	bookingSvc *booking.Service,
	logger *zerolog.Logger,
) error {
	date := time.Now().Format("2006-01-02")
	groups, err := availabilitySvc.Fetch(ctx, "demo-venue", date)
	if err != nil {
		return fmt.Errorf("fetch availability: %w", err)
	}
	logger.Info().Int("courts", len(groups)).Msg("demo: availability fetched")

	var target *models.Slot
	for _, group := range groups {
		for i := range group.Slots {
			if group.Slots[i].Status.Bookable() {
				target = &group.Slots[i]
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no bookable slot found")
	}

	hold, err := controller.Select(ctx, *target, false)
	if err != nil {
		return fmt.Errorf("lock slot %s: %w", target.ID, err)
	}
	logger.Info().
		Str("slot_id", hold.SlotID).
		Int64("seconds_left", controller.Remaining()).
		Msg("demo: hold acquired")

	proof := &models.PaymentProof{
		FileName:      "receipt.jpg",
		Image:         []byte{0xFF, 0xD8, 0xFF, 0xE0},
		AmountClaimed: target.Price,
	}
	result, err := paymentSvc.Submit(ctx, proof)
	if err != nil {
		return fmt.Errorf("submit payment: %w", err)
	}
	logger.Info().Str("status", string(result.Status)).Msg("demo: payment verified")

	upcoming, past, err := bookingSvc.Partitioned(ctx)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	logger.Info().Int("upcoming", len(upcoming)).Int("past", len(past)).Msg("demo: bookings listed")
	return nil
}

func demoSlots() []models.Slot {
	date := time.Now().Format("2006-01-02")
	var slots []models.Slot
	for court := 1; court <= 3; court++ {
		for hour := 8; hour < 22; hour++ {
			slots = append(slots, models.Slot{
				ID:           fmt.Sprintf("slot-%d-%02d", court, hour),
				VendorID:     "demo-venue",
				ResourceID:   fmt.Sprintf("court-%d", court),
				ResourceName: fmt.Sprintf("Court %d", court),
				Date:         date,
				StartTime:    fmt.Sprintf("%02d:00", hour),
				EndTime:      fmt.Sprintf("%02d:00", hour+1),
				Price:        50000,
				Status:       models.SlotAvailable,
			})
		}
	}
	return slots
}

func subscribeHoldEvents(bus *events.Bus, logger *zerolog.Logger) {
	logEvent := func(ev *events.Event) error {
		logger.Info().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("hold event")
		return nil
	}
	bus.Subscribe(events.EventHoldAcquired, logEvent)
	bus.Subscribe(events.EventHoldExpired, logEvent)
	bus.Subscribe(events.EventHoldLost, logEvent)
	bus.Subscribe(events.EventHoldReleased, logEvent)
}

// subscribeBookingExport rewrites the booking history export after every new
// booking so the file on disk tracks reality.
func subscribeBookingExport(ctx context.Context, bus *events.Bus, bookings *booking.Service, exporter *booking.Exporter, logger *zerolog.Logger) {
	bus.Subscribe(events.EventBookingCreated, func(ev *events.Event) error {
		list, err := bookings.List(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("event bus: load bookings for export")
			return nil
		}
		if _, err := exporter.Export(list); err != nil {
			logger.Error().Err(err).Msg("event bus: export bookings")
		}
		return nil
	})
}

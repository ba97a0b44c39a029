package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"privacyguard/internal/api"
	"privacyguard/internal/api/handlers"
	apimiddleware "privacyguard/internal/api/middleware"
	"privacyguard/internal/config"
	"privacyguard/internal/domain/services"
	grpchealth "privacyguard/internal/grpc/health"
	"privacyguard/internal/infrastructure/cache"
	"privacyguard/internal/infrastructure/database"
	"privacyguard/internal/infrastructure/database/repository"
	"privacyguard/internal/infrastructure/database/sqlite"
	"privacyguard/internal/metrics"
	"privacyguard/internal/sources/premium"
	"privacyguard/internal/streaming"
	"privacyguard/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("PRIVACYGUARD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting PrivacyGuard API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, checks, closeStore, err := initStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize record store")
	}
	defer closeStore()

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache, lock and rate limit")
		} else {
			defer redisCache.Close()
			checks["redis"] = redisCache
		}
	}

	// Streaming
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing with local events only")
		} else {
			checks["nats"] = handlers.PingFunc(func(context.Context) error {
				if !natsPublisher.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			})
		}
	}

	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()
	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)
	eventPublisher := streaming.NewEventBusPublisher(eventBus, wsHub)

	recorder := metrics.New()

	// Scoring pipeline
	trackers := services.NewTrackerCatalog()
	scorer := services.NewRiskScorer(
		services.NewPermissionClassifier(nil, log),
		trackers,
		services.NewRuleEngine(),
	)
	aggregator := services.NewSafetyAggregator()

	merger := services.NewScanMerger(
		store,
		scorer,
		services.NewContentHasher(log),
		aggregator,
		services.ScanMergerConfig{
			ProgressCadence: cfg.Scan.ProgressCadence,
			Workers:         cfg.Scan.Workers,
			LockTTL:         cfg.Scan.LockTTL,
		},
		log,
	)
	merger.SetEventPublisher(eventPublisher)
	merger.SetRecorder(recorder)
	if redisCache != nil {
		merger.SetScanLock(redisCache)
	}

	var verdicts *services.MalwareVerdictService
	if cfg.VirusTotal.Enabled {
		var verdictCache premium.VerdictCache
		if redisCache != nil {
			verdictCache = redisCache
		}
		vt := premium.NewVirusTotalClient(cfg.VirusTotal, verdictCache, log)
		verdicts = services.NewMalwareVerdictService(store, vt, cfg.VirusTotal.Timeout, log)
		verdicts.SetEventPublisher(eventPublisher)
		verdicts.SetRecorder(recorder)
		log.Info().Int("requests_per_minute", cfg.VirusTotal.RequestsPerMinute).Msg("VirusTotal lookups enabled")
	}

	h := handlers.NewHandlers(handlers.Dependencies{
		Version:     cfg.App.Version,
		Store:       store,
		Merger:      merger,
		Verdicts:    verdicts,
		Aggregator:  aggregator,
		Trackers:    trackers,
		ScanTimeout: cfg.Scan.LockTTL,
		WSHub:       wsHub,
		EventBus:    eventBus,
		Checks:      checks,
		Logger:      log,
	})

	var limiter apimiddleware.RateLimitStore
	if redisCache != nil {
		limiter = redisCache
	}
	router := api.NewRouter(*cfg, h, limiter, recorder.Handler(), log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC health
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcServer := grpc.NewServer()
	probes := make(map[string]grpchealth.Pinger, len(checks))
	for name, p := range checks {
		probes[name] = p
	}
	healthChecker := grpchealth.NewChecker(probes, 10*time.Second, log)
	healthChecker.Register(grpcServer)
	go healthChecker.Run(ctx)

	go func() {
		log.Info().Str("addr", grpcListener.Addr().String()).Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// initStore opens Postgres when configured, otherwise the local SQLite file
func initStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (services.AppStore, map[string]handlers.Pinger, func(), error) {
	checks := make(map[string]handlers.Pinger)

	if cfg.Database.Enabled {
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(cfg.Database.DSN()); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations applied")
		}

		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, nil, err
		}
		checks["postgres"] = db
		return repository.NewAppRecordRepository(db), checks, db.Close, nil
	}

	store, err := sqlite.Open(ctx, cfg.SQLite.Path, log)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Warn().Str("path", cfg.SQLite.Path).Msg("database disabled, using local SQLite store")
	checks["sqlite"] = store
	return store, checks, func() { store.Close() }, nil
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridtune/internal/core/ports"
	"gridtune/internal/core/services"
	httphandlers "gridtune/internal/handlers/http"
	"gridtune/internal/infrastructure/distributed"
	"gridtune/internal/infrastructure/middleware"
	"gridtune/internal/infrastructure/monitoring"
	"gridtune/internal/infrastructure/probe"
	"gridtune/internal/infrastructure/reliability"
	"gridtune/internal/infrastructure/repositories"
	"gridtune/internal/infrastructure/telemetry"
	"gridtune/pkg/circuitbreaker"
	"gridtune/pkg/config"
	"gridtune/pkg/logger"
	"gridtune/pkg/retry"
	"gridtune/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/gridtune/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "gridtune",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	recRepo := repoFactory.CreateRecommendationRepository()

	// Ambient network probe
	var ambientProbe ports.NetworkProbe
	switch cfg.Probe.Mode {
	case "http":
		ambientProbe = probe.NewHTTPProbe(cfg.Probe.URL, cfg.Probe.Timeout, log)
	default:
		ambientProbe = probe.NewStaticProbe(
			cfg.Probe.Static.DownlinkMbps,
			cfg.Probe.Static.RTTMs,
			cfg.Probe.Static.ConnectionClass,
			cfg.Probe.Static.SaveData,
		)
	}
	ambientProbe = reliability.NewProbeWrapper(
		ambientProbe,
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	// Core services
	tiers := cfg.TierTable()
	aggregator := services.NewTelemetryAggregator(cfg.AggregatorConfig(), tiers, log)
	engine := services.NewStreamDecisionEngine(cfg.DecisionConfig(), tiers, log)
	tiering := services.NewLayoutTieringPolicy(services.DefaultLayoutStrategies())
	synth := services.NewBatchSynthesizer(services.DefaultSynthesizerConfig(), tiering, log)

	var opts []services.ControllerOption
	if cfg.Monitoring.PrometheusEnabled {
		opts = append(opts, services.WithMetrics(monitoring.NewPrometheusCollector()))
	}
	if client := repoFactory.RedisClient(); client != nil {
		eventBus := distributed.NewEventBus(client, log)
		defer eventBus.Close()
		opts = append(opts, services.WithEventPublisher(eventBus))
	}

	controller := services.NewController(
		services.ControllerConfig{EvaluationInterval: cfg.Controller.EvaluationInterval},
		aggregator,
		engine,
		synth,
		ambientProbe,
		recRepo,
		log,
		opts...,
	)

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	healthChecker.AddRepositoryCheck(recRepo, 30*time.Second, 2*time.Second)
	healthChecker.AddControllerCheck(
		controller.LastTick,
		3*cfg.Controller.EvaluationInterval,
		cfg.Controller.EvaluationInterval,
		time.Second,
	)

	// Telemetry feed over WebSocket
	feedServer := telemetry.NewWebSocketServer(controller, log)
	feedServer.SetPingInterval(cfg.Telemetry.PingInterval)
	controller.SubscribeBatch(feedServer.BroadcastBatch)
	controller.SubscribeStrategy(feedServer.BroadcastStrategyChange)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	handler := httphandlers.NewControllerHandler(controller, recRepo, healthChecker)
	if cfg.Auth.Enabled {
		handler.SetupRoutes(router, middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	} else {
		handler.SetupRoutes(router)
	}

	router.GET("/ws", gin.WrapF(feedServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Run the evaluation loop
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	go controller.Run(loopCtx)
	healthChecker.StartBackgroundChecks(loopCtx)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting gridtune controller on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down gridtune controller...")

	loopCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("gridtune controller stopped")
}

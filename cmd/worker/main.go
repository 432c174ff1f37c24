package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/mailing-scheduler/internal/app"
	"github.com/jwalitptl/mailing-scheduler/internal/config"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/health"
	metricsHandler "github.com/jwalitptl/mailing-scheduler/internal/handler/prometheus"
	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
	internalworker "github.com/jwalitptl/mailing-scheduler/internal/worker"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/messaging"
	"github.com/jwalitptl/mailing-scheduler/pkg/messaging/redis"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
	"github.com/jwalitptl/mailing-scheduler/pkg/worker"
)

func setupHealthCheck(port int, db health.Pinger, appLogger *logger.Logger) *http.Server {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(db).RegisterRoutes(&engine.RouterGroup)
	metricsHandler.New().RegisterRoutes(&engine.RouterGroup)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func newBroker(cfg *config.Config, appLogger *logger.Logger) (messaging.Broker, error) {
	if !cfg.Redis.Enabled {
		appLogger.Warn("Redis disabled, email events are relayed in-process only")
		return messaging.NewMemoryBroker(), nil
	}
	return redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Output:  os.Stdout,
		Console: cfg.Log.Console,
	})
	log.Logger = *appLogger.Zerolog()
	gin.SetMode(gin.ReleaseMode)

	m := metrics.NewMetrics("mailing", "worker")

	a, err := app.New(cfg, appLogger, m)
	if err != nil {
		appLogger.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	broker, err := newBroker(cfg, appLogger)
	if err != nil {
		appLogger.Fatal(err, "Failed to create message broker")
	}
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One scheduler runs the dispatch pass and the maintenance jobs.
	scheduler := cron.New(cron.WithChain(
		cron.Recover(appLogger),
		cron.SkipIfStillRunning(appLogger),
	))
	if cfg.Worker.EnableCronTrigger {
		_, err := scheduler.AddFunc(cfg.Dispatcher.Schedule, func() {
			counts, err := a.Dispatcher.ProcessScheduledEmails(ctx)
			if err != nil {
				appLogger.Error(err, "Scheduled dispatch failed")
				return
			}
			appLogger.Info("Scheduled dispatch finished",
				"processed", counts.Processed,
				"sent", counts.Sent,
				"failed", counts.Failed,
				"skipped", counts.Skipped,
			)
		})
		if err != nil {
			appLogger.Fatal(err, "Invalid dispatcher schedule", "schedule", cfg.Dispatcher.Schedule)
		}
		appLogger.Info("Dispatcher scheduled", "schedule", cfg.Dispatcher.Schedule)
	}
	err = internalworker.Schedule(ctx, scheduler, appLogger,
		internalworker.LeaseReclaim(a.Dispatcher, cfg.Dispatcher.ReclaimEvery),
		internalworker.StockReclaim(a.Stock, cfg.Dispatcher.ReclaimEvery),
		internalworker.StockExpiry(a.Stock, cfg.Worker.StockExpiryEvery),
	)
	if err != nil {
		appLogger.Fatal(err, "Failed to schedule maintenance jobs")
	}
	scheduler.Start()

	relay := worker.NewEventRelay(
		a.Store.EmailEvents(),
		broker,
		cfg.Relay.ToWorkerConfig(),
		appLogger.WithFields(map[string]interface{}{"component": "event_relay"}),
		m,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Start(ctx)
	}()

	healthSrv := setupHealthCheck(cfg.Worker.HealthPort, a, appLogger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down...")

	// Wait for in-flight runs before cancelling their context.
	<-scheduler.Stop().Done()
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health check server forced to shutdown")
	}
}

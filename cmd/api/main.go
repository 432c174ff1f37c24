package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/mailing-scheduler/internal/app"
	"github.com/jwalitptl/mailing-scheduler/internal/config"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/auth"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/automation"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/cron"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/health"
	metricsHandler "github.com/jwalitptl/mailing-scheduler/internal/handler/prometheus"
	stockHandler "github.com/jwalitptl/mailing-scheduler/internal/handler/stock"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/subscriber"
	trackingHandler "github.com/jwalitptl/mailing-scheduler/internal/handler/tracking"
	"github.com/jwalitptl/mailing-scheduler/internal/handler/webhook"
	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
	"github.com/jwalitptl/mailing-scheduler/internal/router"
	authService "github.com/jwalitptl/mailing-scheduler/internal/service/auth"
	jwtauth "github.com/jwalitptl/mailing-scheduler/pkg/auth"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Output:  os.Stdout,
		Console: cfg.Log.Console,
	})
	log.Logger = *appLogger.Zerolog()

	if !cfg.Secrets.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Secrets.WebhookSecret == "" {
		appLogger.Warn("WC_WEBHOOK_SECRET is not set, signed webhooks will be rejected")
	}
	if cfg.Secrets.CronAPIKey == "" {
		appLogger.Warn("CRON_API_KEY is not set, the cron endpoint is disabled")
	}

	// Storage and domain services
	a, err := app.New(cfg, appLogger, metrics.NewMetrics("mailing", "api"))
	if err != nil {
		appLogger.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	// Admin authentication
	jwtSvc, err := jwtauth.NewJWTService(cfg.Secrets.JWTSecret, cfg.Admin.TokenTTL)
	if err != nil {
		appLogger.Fatal(err, "failed to initialize token service")
	}
	authSvc := authService.NewService(
		authService.Credentials{Username: cfg.Admin.Username, PasswordHash: cfg.Admin.PasswordHash},
		security.NewBcryptHasher(bcrypt.DefaultCost),
		jwtSvc,
		appLogger.WithFields(map[string]interface{}{"component": "admin_auth"}),
	)

	// Handlers
	handlers := router.Handlers{
		Health:     health.NewHandler(a),
		Metrics:    metricsHandler.New(),
		Webhooks:   webhook.NewHandler(a.Orders, a.Stock, cfg.Secrets.WebhookSecret),
		Cron:       cron.NewHandler(a.Dispatcher),
		Tracking:   trackingHandler.NewHandler(a.Tracking),
		AdminLogin: auth.NewHandler(authSvc),
		Admin: []router.Handler{
			automation.NewHandler(a.Automations, a.Dispatcher),
			stockHandler.NewHandler(a.Stock),
			subscriber.NewHandler(a.Tracking),
		},
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(jwtSvc), handlers, router.Config{
		WebhookSecret: cfg.Secrets.WebhookSecret,
		CronAPIKey:    cfg.Secrets.CronAPIKey,
		MaxBodySize:   cfg.Server.MaxBodySize,
		StoreOrigins:  cfg.Server.StoreOrigins,
		PublicLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.Tracking.RatePerSecond),
			Burst: cfg.Tracking.Burst,
		}),
		LoginLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  0.2,
			Burst: 5,
		}),
	})
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("Server exited properly")
}

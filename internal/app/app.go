// Package app wires storage, delivery and the domain services shared by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/mailing-scheduler/internal/config"
	"github.com/jwalitptl/mailing-scheduler/internal/email"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/postgres"
	"github.com/jwalitptl/mailing-scheduler/internal/service/automation"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
	"github.com/jwalitptl/mailing-scheduler/internal/service/dispatcher"
	"github.com/jwalitptl/mailing-scheduler/internal/service/ingest"
	"github.com/jwalitptl/mailing-scheduler/internal/service/stock"
	"github.com/jwalitptl/mailing-scheduler/internal/service/template"
	"github.com/jwalitptl/mailing-scheduler/internal/service/tracking"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

type App struct {
	Store repository.Store
	// DB is nil with the memory driver.
	DB *sqlx.DB

	Templates   *template.Service
	Engine      *delivery.Engine
	Automations *automation.Service
	Dispatcher  *dispatcher.Service
	Orders      *ingest.Service
	Stock       *stock.Service
	Tracking    *tracking.Service
}

func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{}

	switch cfg.Database.Driver {
	case "memory":
		log.Warn("Using the in-memory store, data is lost on restart")
		a.Store = memory.New()
	case "postgres", "":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = postgres.NewStore(db)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	s := a.Store
	a.Templates = template.NewService(s.Templates(), cfg.Templates.CacheTTL)
	a.Engine = delivery.NewEngine(
		s.Sends(),
		s.Subscribers(),
		s.EmailEvents(),
		email.NewSMTPFactory(cfg.SMTP.ToTransportConfig(), log.WithFields(map[string]interface{}{"component": "smtp"})),
		delivery.NewTracker(cfg.Secrets.BaseURL()),
		log.WithFields(map[string]interface{}{"component": "delivery"}),
		m,
	)
	a.Automations = automation.NewService(s.Automations(), s.Subscribers(), log)
	a.Dispatcher = dispatcher.NewService(
		s.Automations(),
		s.Templates(),
		s.Settings(),
		a.Engine,
		cfg.Dispatcher.ToServiceConfig(),
		log.WithFields(map[string]interface{}{"component": "dispatcher"}),
		m,
	)
	a.Orders = ingest.NewService(a.Templates, s.Subscribers(), a.Automations, cfg.Secrets.Development(), log)
	a.Stock = stock.NewService(s.Stock(), s.Subscribers(), s.Settings(), a.Templates, a.Engine, log, m)
	a.Tracking = tracking.NewService(s.Sends(), s.Subscribers(), s.EmailEvents(), log)

	return a, nil
}

// PingContext reports storage readiness. The memory store is always ready.
func (a *App) PingContext(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

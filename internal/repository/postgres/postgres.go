package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

// Store hands out the postgres repositories over one connection pool.
type Store struct {
	db   *sqlx.DB
	base BaseRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, base: NewBaseRepository(db)}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Automations() repository.AutomationRepository {
	return NewAutomationRepository(s.base)
}

func (s *Store) Templates() repository.TemplateRepository {
	return NewTemplateRepository(s.base)
}

func (s *Store) Settings() repository.SettingsRepository {
	return NewSettingsRepository(s.base)
}

func (s *Store) Sends() repository.SendRepository {
	return NewSendRepository(s.base)
}

func (s *Store) Subscribers() repository.SubscriberRepository {
	return NewSubscriberRepository(s.base)
}

func (s *Store) Stock() repository.StockRepository {
	return NewStockRepository(s.base)
}

func (s *Store) EmailEvents() repository.EmailEventRepository {
	return NewEmailEventRepository(s.base)
}

// Package memory is an in-process implementation of the repository interfaces.
// It keeps the storage-level guarantees the services rely on: status changes
// are compare-and-swap under one mutex, automation and step creation is
// all-or-nothing, and ledger keys are unique.
package memory

import (
	"sync"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type Store struct {
	mu sync.Mutex

	seq int64
	now func() time.Time

	automations   map[int64]*model.Automation
	steps         map[int64][]*model.Step
	templates     map[int64]*model.Template
	settings      []*model.EmailSettings
	sends         map[int64]*model.SendRecord
	subscribers   map[int64]*model.Subscriber
	stockRequests map[int64]*model.StockRequest
	stockEvents   map[int64]*model.StockEvent
	emailEvents   []*model.EmailEvent
}

func New() *Store {
	return &Store{
		now:           time.Now,
		automations:   make(map[int64]*model.Automation),
		steps:         make(map[int64][]*model.Step),
		templates:     make(map[int64]*model.Template),
		sends:         make(map[int64]*model.SendRecord),
		subscribers:   make(map[int64]*model.Subscriber),
		stockRequests: make(map[int64]*model.StockRequest),
		stockEvents:   make(map[int64]*model.StockEvent),
	}
}

// SetClock replaces the clock used for updated_at bookkeeping.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) Automations() repository.AutomationRepository { return &automationRepository{s} }
func (s *Store) Templates() repository.TemplateRepository     { return &templateRepository{s} }
func (s *Store) Settings() repository.SettingsRepository      { return &settingsRepository{s} }
func (s *Store) Sends() repository.SendRepository             { return &sendRepository{s} }
func (s *Store) Subscribers() repository.SubscriberRepository { return &subscriberRepository{s} }
func (s *Store) Stock() repository.StockRepository            { return &stockRepository{s} }
func (s *Store) EmailEvents() repository.EmailEventRepository { return &emailEventRepository{s} }

// AddTemplate seeds a template and returns it with its id.
func (s *Store) AddTemplate(t model.Template) *model.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID()
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.templates[t.ID] = &t
	out := t
	return &out
}

// AddSettings seeds an email settings row.
func (s *Store) AddSettings(cfg model.EmailSettings) *model.EmailSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.ID = s.nextID()
	s.settings = append(s.settings, &cfg)
	out := cfg
	return &out
}

// AddSubscriber seeds a subscriber.
func (s *Store) AddSubscriber(sub model.Subscriber) *model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.nextID()
	sub.Email = model.NormalizeEmail(sub.Email)
	if sub.CustomAttributes == nil {
		sub.CustomAttributes = model.JSONMap{}
	}
	sub.CreatedAt = s.now()
	sub.UpdatedAt = sub.CreatedAt
	s.subscribers[sub.ID] = &sub
	out := sub
	return &out
}

// AddAutomation seeds an automation with an optional set of steps, bypassing
// dedup. Useful for states the factory never produces. A zero DueAt is taken
// from the trigger settings.
func (s *Store) AddAutomation(a model.Automation, steps ...model.Step) *model.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.DueAt.IsZero() {
		if ts, err := a.Settings(); err == nil {
			a.DueAt = ts.ScheduledDate
		}
	}
	a.ID = s.nextID()
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	s.automations[a.ID] = &a
	for i := range steps {
		st := steps[i]
		st.ID = s.nextID()
		st.AutomationID = a.ID
		s.steps[a.ID] = append(s.steps[a.ID], &st)
	}
	out := a
	return &out
}

// CountAutomations returns the number of stored automations.
func (s *Store) CountAutomations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.automations)
}

// SendRecords returns a copy of the ledger.
func (s *Store) SendRecords() []model.SendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SendRecord, 0, len(s.sends))
	for _, rec := range s.sends {
		out = append(out, *rec)
	}
	return out
}

// StockEvents returns a copy of the recorded stock events.
func (s *Store) StockEvents() []model.StockEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StockEvent, 0, len(s.stockEvents))
	for _, evt := range s.stockEvents {
		out = append(out, *evt)
	}
	return out
}

// EmailEventsOf returns the recorded events of one type.
func (s *Store) EmailEventsOf(eventType model.EmailEventType) []model.EmailEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EmailEvent
	for _, evt := range s.emailEvents {
		if evt.EventType == eventType {
			out = append(out, *evt)
		}
	}
	return out
}

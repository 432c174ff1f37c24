package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// Store is implemented by each storage driver.
	Store interface {
		Automations() AutomationRepository
		Templates() TemplateRepository
		Settings() SettingsRepository
		Sends() SendRepository
		Subscribers() SubscriberRepository
		Stock() StockRepository
		EmailEvents() EmailEventRepository
	}

	// AutomationRepository owns automations and their steps. Every status change
	// that can race goes through Transition, a single compare-and-swap statement.
	AutomationRepository interface {
		// CreateWithStep inserts the automation and its step in one transaction.
		// When (trigger_type, source_event_id) already exists it writes nothing,
		// loads the existing id into a and returns created=false.
		CreateWithStep(ctx context.Context, a *model.Automation, step *model.Step) (bool, error)
		Get(ctx context.Context, id int64) (*model.Automation, error)
		FindBySourceEvent(ctx context.Context, triggerType model.TriggerType, sourceEventID string) (*model.Automation, error)
		List(ctx context.Context, filter model.AutomationFilter) ([]*model.Automation, error)
		// ListDue returns active pending automations of the given trigger types
		// whose due_at is not after now, oldest due first.
		ListDue(ctx context.Context, triggerTypes []model.TriggerType, now time.Time, limit int) ([]*model.Automation, error)
		// Transition moves id from one status to another only if it is still in from.
		Transition(ctx context.Context, id int64, from, to model.AutomationStatus) (bool, error)
		// Finish writes a terminal status and deactivates the automation, only
		// while it is still processing. ok=false means the lease was lost.
		Finish(ctx context.Context, id int64, status model.AutomationStatus) (bool, error)
		// SetStatus is the operator override. It never touches a processing row.
		SetStatus(ctx context.Context, id int64, status model.AutomationStatus, isActive bool) (bool, error)
		// ReclaimStale returns processing rows not updated since before to pending.
		ReclaimStale(ctx context.Context, before time.Time) (int64, error)
		FirstActiveStep(ctx context.Context, automationID int64) (*model.Step, error)
	}

	TemplateRepository interface {
		GetByID(ctx context.Context, id int64) (*model.Template, error)
		GetByName(ctx context.Context, name string) (*model.Template, error)
	}

	SettingsRepository interface {
		GetActive(ctx context.Context) (*model.EmailSettings, error)
	}

	// SendRepository is the delivery ledger.
	SendRepository interface {
		FindByLedgerKey(ctx context.Context, key string) (*model.SendRecord, error)
		FindByTrackingID(ctx context.Context, trackingID string) (*model.SendRecord, error)
		// Create returns created=false when the ledger key is already taken.
		Create(ctx context.Context, rec *model.SendRecord) (bool, error)
		// MarkOpened sets opened_at the first time only.
		MarkOpened(ctx context.Context, id int64, at time.Time) error
	}

	SubscriberRepository interface {
		Get(ctx context.Context, id int64) (*model.Subscriber, error)
		GetByEmail(ctx context.Context, email string) (*model.Subscriber, error)
		// UpsertByEmail inserts sub or updates the existing row with the same email:
		// non-empty names and phone win, custom attributes are merged with sub's on top.
		UpsertByEmail(ctx context.Context, sub *model.Subscriber) (*model.Subscriber, error)
		Unsubscribe(ctx context.Context, id int64, reason string, attrs model.JSONMap, at time.Time) error
		Resubscribe(ctx context.Context, id int64) error
	}

	StockRepository interface {
		GetRequest(ctx context.Context, id int64) (*model.StockRequest, error)
		FindPendingRequest(ctx context.Context, subscriberID, productID int64, variant *string) (*model.StockRequest, error)
		// FindPendingRequest and CreateRequest treat a processing request as still
		// open. CreateRequest returns created=false and loads the existing id when
		// an open request for the same key already exists.
		CreateRequest(ctx context.Context, req *model.StockRequest) (bool, error)
		// ListPendingForRestock matches the variant exactly; nil only matches nil.
		ListPendingForRestock(ctx context.Context, productID int64, variant *string, now time.Time) ([]*model.StockRequest, error)
		ListPendingBySubscriber(ctx context.Context, subscriberID int64) ([]*model.StockRequest, error)
		// Claim moves an active pending request to processing. Only one caller
		// wins; the rest get ok=false.
		Claim(ctx context.Context, id int64, at time.Time) (bool, error)
		// Release returns a processing request to pending after a failed send.
		Release(ctx context.Context, id int64) error
		// ReclaimStale returns requests claimed before the given time to pending.
		ReclaimStale(ctx context.Context, before time.Time) (int64, error)
		// MarkNotified completes a processing request.
		MarkNotified(ctx context.Context, id int64, at time.Time) error
		Cancel(ctx context.Context, id int64) error
		ExpireBefore(ctx context.Context, now time.Time) (int64, error)
		CreateEvent(ctx context.Context, evt *model.StockEvent) error
		MarkEventProcessed(ctx context.Context, id int64, metadata model.JSONMap, at time.Time) error
	}

	EmailEventRepository interface {
		Create(ctx context.Context, evt *model.EmailEvent) error
		// ListUnpublished claims up to limit unpublished rows for the relay.
		ListUnpublished(ctx context.Context, limit int) ([]*model.EmailEvent, error)
		MarkPublished(ctx context.Context, id int64, at time.Time) error
	}
)

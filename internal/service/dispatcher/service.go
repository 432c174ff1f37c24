package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

// DispatchTriggers are the trigger types processed on the schedule. Restock
// notifications are delivered immediately by the stock service instead.
var DispatchTriggers = []model.TriggerType{model.TriggerOrderCompleted, model.TriggerScheduled}

type Config struct {
	BatchSize    int
	RunTimeout   time.Duration
	LeaseTimeout time.Duration
}

// Counts summarizes one run.
type Counts struct {
	Processed         int `json:"processed"`
	Sent              int `json:"sent"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	AlreadyProcessing int `json:"alreadyProcessing"`
}

// Sender is the delivery engine as seen by the dispatcher.
type Sender interface {
	PrepareAndSend(
		ctx context.Context,
		a *model.Automation,
		step *model.Step,
		tpl *model.Template,
		ts *model.TriggerSettings,
		cfg *model.EmailSettings,
	) (*delivery.Result, error)
}

// Service claims due automations one at a time and hands them to the sender.
// Overlapping runs are safe: the pending→processing transition is a single
// compare-and-swap, and the sender's ledger refuses a second send.
type Service struct {
	automations repository.AutomationRepository
	templates   repository.TemplateRepository
	settings    repository.SettingsRepository
	sender      Sender
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(
	automations repository.AutomationRepository,
	templates repository.TemplateRepository,
	settings repository.SettingsRepository,
	sender Sender,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 4 * time.Minute
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = 30 * time.Minute
	}
	return &Service{
		automations: automations,
		templates:   templates,
		settings:    settings,
		sender:      sender,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// ProcessScheduledEmails runs one dispatch pass over due automations.
func (s *Service) ProcessScheduledEmails(ctx context.Context) (*Counts, error) {
	runID := ulid.Make().String()
	log := s.logger.WithFields(map[string]interface{}{"run_id": runID})
	timer := prometheus.NewTimer(s.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	log.Info("Starting scheduled email processing")

	cfg, err := s.activeSettings(ctx)
	if err != nil {
		s.metrics.DispatchRuns.WithLabelValues("error").Inc()
		log.Error(err, "Scheduled email processing aborted")
		return nil, err
	}

	due, err := s.automations.ListDue(ctx, DispatchTriggers, s.now(), s.config.BatchSize)
	if err != nil {
		s.metrics.DispatchRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list due automations: %w", err)
	}
	log.Info("Found candidate automations", "count", len(due))

	counts := &Counts{}
	for i, a := range due {
		if ctx.Err() != nil {
			log.Warn("Run timeout reached, remaining automations stay pending", "remaining", len(due)-i)
			break
		}
		s.dispatch(ctx, log, a, cfg, counts)
	}

	s.metrics.DispatchRuns.WithLabelValues("success").Inc()
	log.Info("Finished scheduled email processing",
		"processed", counts.Processed,
		"sent", counts.Sent,
		"failed", counts.Failed,
		"skipped", counts.Skipped,
		"already_processing", counts.AlreadyProcessing)
	return counts, nil
}

func (s *Service) dispatch(ctx context.Context, log *logger.Logger, a *model.Automation, cfg *model.EmailSettings, counts *Counts) {
	ts, err := a.Settings()
	if err != nil {
		log.Warn("Automation has invalid trigger settings", "automation_id", a.ID, "error", err.Error())
		s.outcome(&counts.Skipped, "skipped")
		return
	}
	if !ts.Due(s.now()) {
		s.outcome(&counts.Skipped, "not_due")
		return
	}

	claimed, err := s.automations.Transition(ctx, a.ID, model.AutomationStatusPending, model.AutomationStatusProcessing)
	if err != nil {
		log.Error(err, "Failed to claim automation", "automation_id", a.ID)
		s.outcome(&counts.Skipped, "skipped")
		return
	}
	if !claimed {
		log.Info("Automation already being processed by another run", "automation_id", a.ID)
		s.outcome(&counts.AlreadyProcessing, "already_processing")
		return
	}
	log.Debug("Acquired lock", "automation_id", a.ID, "source_event_id", ts.SourceEventID)

	res, err := s.execute(ctx, log, a, ts, cfg)
	if errors.Is(err, errNoSendStep) {
		s.release(ctx, log, a.ID)
		s.outcome(&counts.Skipped, "no_step")
		return
	}
	counts.Processed++

	if errors.Is(err, delivery.ErrUnsubscribed) {
		log.Info("Recipient unsubscribed, automation not sent", "automation_id", a.ID, "subscriber_id", ts.SubscriberID)
		s.finish(ctx, log, a.ID, model.AutomationStatusFailed)
		s.outcome(&counts.Skipped, "unsubscribed")
		return
	}
	if err != nil {
		log.Error(err, "Failed to send automation email", "automation_id", a.ID, "source_event_id", ts.SourceEventID)
		s.finish(ctx, log, a.ID, model.AutomationStatusFailed)
		s.outcome(&counts.Failed, "failed")
		return
	}

	s.finish(ctx, log, a.ID, model.AutomationStatusCompleted)
	s.outcome(&counts.Sent, "sent")
	log.Info("Automation completed",
		"automation_id", a.ID,
		"already_sent", res.AlreadySent,
		"tracking_id", res.TrackingID)
}

var errNoSendStep = errors.New("automation has no active send step")

// execute runs the claimed automation. A panic is turned into an error so one
// bad automation cannot stop the run.
func (s *Service) execute(
	ctx context.Context,
	log *logger.Logger,
	a *model.Automation,
	ts *model.TriggerSettings,
	cfg *model.EmailSettings,
) (res *delivery.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing automation %d: %v", a.ID, r)
		}
	}()

	step, err := s.automations.FirstActiveStep(ctx, a.ID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("Automation has no valid steps", "automation_id", a.ID)
		return nil, errNoSendStep
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load step: %w", err)
	}
	if step.StepType != model.StepSendEmail {
		log.Warn("Automation step is not a send step", "automation_id", a.ID, "step_type", string(step.StepType))
		return nil, errNoSendStep
	}

	var tpl *model.Template
	if step.TemplateID != nil {
		tpl, err = s.templates.GetByID(ctx, *step.TemplateID)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("Step template not found, using inline content", "automation_id", a.ID, "template_id", *step.TemplateID)
			tpl = nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
	}

	return s.sender.PrepareAndSend(ctx, a, step, tpl, ts, cfg)
}

// SendNow delivers a pending automation immediately, ignoring its due date.
// It takes the same lock as a scheduled run and the ledger still applies.
func (s *Service) SendNow(ctx context.Context, id int64) (*delivery.Result, error) {
	log := s.logger.WithFields(map[string]interface{}{"automation_id": id, "trigger": "send_now"})

	a, err := s.automations.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("automation", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if a.Status != model.AutomationStatusPending {
		return nil, apperrors.Conflict(fmt.Sprintf("automation %d is %s, only pending automations can be sent", id, a.Status), nil)
	}

	cfg, err := s.activeSettings(ctx)
	if err != nil {
		return nil, err
	}
	ts, err := a.Settings()
	if err != nil {
		return nil, apperrors.BadRequest("automation has invalid trigger settings", err)
	}

	claimed, err := s.automations.Transition(ctx, id, model.AutomationStatusPending, model.AutomationStatusProcessing)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !claimed {
		return nil, apperrors.Conflict("automation is already being processed", nil)
	}

	res, err := s.execute(ctx, log, a, ts, cfg)
	if errors.Is(err, errNoSendStep) {
		s.release(ctx, log, id)
		return nil, apperrors.BadRequest(err.Error(), nil)
	}
	if errors.Is(err, delivery.ErrUnsubscribed) {
		s.finish(ctx, log, id, model.AutomationStatusFailed)
		s.metrics.DispatchItems.WithLabelValues("unsubscribed").Inc()
		return nil, apperrors.Conflict("subscriber is unsubscribed", err)
	}
	if err != nil {
		s.finish(ctx, log, id, model.AutomationStatusFailed)
		s.metrics.DispatchItems.WithLabelValues("failed").Inc()
		return nil, &apperrors.AppError{Code: apperrors.ErrInternal, Message: "email delivery failed", Err: err}
	}

	s.finish(ctx, log, id, model.AutomationStatusCompleted)
	s.metrics.DispatchItems.WithLabelValues("sent").Inc()
	log.Info("Automation sent on demand", "already_sent", res.AlreadySent)
	return res, nil
}

// ReclaimStale returns automations whose processing lease expired to pending.
func (s *Service) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.LeaseTimeout)
	n, err := s.automations.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale automations: %w", err)
	}
	if n > 0 {
		s.metrics.AutomationsReclaimed.Add(float64(n))
		s.logger.Warn("Reclaimed automations with expired processing lease", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *Service) activeSettings(ctx context.Context) (*model.EmailSettings, error) {
	cfg, err := s.settings.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Config("no active email configuration found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email settings: %w", err)
	}
	return cfg, nil
}

// Terminal and release writes run even when the run deadline has passed.
// A finish that finds the row no longer processing leaves it alone: the lease
// was reclaimed and another run owns it now.
func (s *Service) finish(ctx context.Context, log *logger.Logger, id int64, status model.AutomationStatus) {
	ok, err := s.automations.Finish(context.WithoutCancel(ctx), id, status)
	if err != nil {
		log.Error(err, "Failed to write terminal status", "automation_id", id, "status", string(status))
		return
	}
	if !ok {
		s.metrics.DispatchItems.WithLabelValues("lease_lost").Inc()
		log.Warn("Lost processing lease, terminal status not written", "automation_id", id, "status", string(status))
	}
}

func (s *Service) release(ctx context.Context, log *logger.Logger, id int64) {
	ok, err := s.automations.Transition(context.WithoutCancel(ctx), id, model.AutomationStatusProcessing, model.AutomationStatusPending)
	if err != nil || !ok {
		log.Error(err, "Failed to release automation lock", "automation_id", id)
	}
}

func (s *Service) outcome(counter *int, label string) {
	*counter++
	s.metrics.DispatchItems.WithLabelValues(label).Inc()
}

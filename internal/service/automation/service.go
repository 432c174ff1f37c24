package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

// FollowupSubject is the fixed subject of the order follow-up step. The
// referenced template's subject takes precedence when it has one.
const FollowupSubject = "👩‍🏫 ¡Seño, necesitamos tu nota final! 📢"

type AutomationServicer interface {
	CreateFollowupAutomation(ctx context.Context, req *FollowupRequest) (*CreateResult, error)
	ScheduleEmail(ctx context.Context, req *ScheduleRequest) (*CreateResult, error)
	Get(ctx context.Context, id int64) (*model.Automation, error)
	List(ctx context.Context, filter model.AutomationFilter) ([]*model.Automation, error)
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Toggle(ctx context.Context, id int64, status model.AutomationStatus, isActive bool) error
}

// FollowupRequest describes the review reminder created for a completed order.
type FollowupRequest struct {
	OrderID       int64  `validate:"gt=0"`
	SubscriberID  int64  `validate:"gt=0"`
	CustomerEmail string `validate:"required,email"`
	CustomerName  string
	TemplateID    int64 `validate:"gt=0"`
	DelayDays     int   `validate:"gte=0"`
}

// ScheduleRequest is a one-off email to one subscriber after a delay.
type ScheduleRequest struct {
	TemplateID   int64                  `json:"templateId" validate:"gt=0"`
	SubscriberID int64                  `json:"subscriberId" validate:"gt=0"`
	DelayDays    int                    `json:"delayDays" validate:"gte=0"`
	Subject      string                 `json:"subject"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type CreateResult struct {
	AutomationID   int64     `json:"automationId"`
	ScheduledDate  time.Time `json:"scheduledDate"`
	AlreadyExisted bool      `json:"alreadyExists"`
}

type Service struct {
	automations repository.AutomationRepository
	subscribers repository.SubscriberRepository
	logger      *logger.Logger
	now         func() time.Time
}

func NewService(
	automations repository.AutomationRepository,
	subscribers repository.SubscriberRepository,
	logger *logger.Logger,
) *Service {
	return &Service{
		automations: automations,
		subscribers: subscribers,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateFollowupAutomation schedules the review reminder for an order. A second
// call for the same order writes nothing and reports the existing automation.
func (s *Service) CreateFollowupAutomation(ctx context.Context, req *FollowupRequest) (*CreateResult, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	sourceEventID := strconv.FormatInt(req.OrderID, 10)
	if res, err := s.existing(ctx, model.TriggerOrderCompleted, sourceEventID); res != nil || err != nil {
		return res, err
	}

	due := s.now().AddDate(0, 0, req.DelayDays)
	ts := &model.TriggerSettings{
		SourceEventID: sourceEventID,
		OrderID:       req.OrderID,
		ScheduledDate: due,
		SubscriberID:  req.SubscriberID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	}
	templateID := req.TemplateID
	a := &model.Automation{
		Name:          fmt.Sprintf("Seguimiento Pedido #%d", req.OrderID),
		Description:   fmt.Sprintf("Email automático %d días después de completar el pedido #%d", req.DelayDays, req.OrderID),
		TriggerType:   model.TriggerOrderCompleted,
		SourceEventID: sourceEventID,
	}
	step := &model.Step{
		StepOrder:    1,
		StepType:     model.StepSendEmail,
		TemplateID:   &templateID,
		Subject:      FollowupSubject,
		WaitDuration: req.DelayDays * 24 * 60,
		IsActive:     true,
	}

	res, err := s.create(ctx, a, step, ts)
	if err != nil {
		return nil, err
	}
	if res.AlreadyExisted {
		s.logger.Info("Duplicate follow-up blocked", "order_id", req.OrderID, "automation_id", res.AutomationID)
	} else {
		s.logger.Info("Follow-up automation created",
			"order_id", req.OrderID,
			"automation_id", res.AutomationID,
			"scheduled_date", res.ScheduledDate)
	}
	return res, nil
}

// ScheduleEmail creates a scheduled automation for one subscriber. Every call
// gets a fresh source event id, so scheduled emails never deduplicate.
func (s *Service) ScheduleEmail(ctx context.Context, req *ScheduleRequest) (*CreateResult, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	sub, err := s.subscribers.Get(ctx, req.SubscriberID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("subscriber", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}

	subject := req.Subject
	name := subject
	if name == "" {
		name = "Sin asunto"
	}
	templateID := req.TemplateID
	ts := &model.TriggerSettings{
		SourceEventID: uuid.NewString(),
		ScheduledDate: s.now().AddDate(0, 0, req.DelayDays),
		SubscriberID:  sub.ID,
		CustomerEmail: sub.Email,
		CustomerName:  sub.FullName(),
		Metadata:      req.Metadata,
	}
	a := &model.Automation{
		Name:          "Email programado: " + name,
		Description:   fmt.Sprintf("Email programado para %d días de retraso", req.DelayDays),
		TriggerType:   model.TriggerScheduled,
		SourceEventID: ts.SourceEventID,
	}
	step := &model.Step{
		StepOrder:    1,
		StepType:     model.StepSendEmail,
		TemplateID:   &templateID,
		Subject:      subject,
		WaitDuration: req.DelayDays * 24 * 60,
		IsActive:     true,
	}

	res, err := s.create(ctx, a, step, ts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Email scheduled", "automation_id", res.AutomationID, "subscriber_id", sub.ID, "scheduled_date", res.ScheduledDate)
	return res, nil
}

// existing reports an automation already registered for the source event.
func (s *Service) existing(ctx context.Context, trigger model.TriggerType, sourceEventID string) (*CreateResult, error) {
	a, err := s.automations.FindBySourceEvent(ctx, trigger, sourceEventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing automation: %w", err)
	}
	return s.describe(a), nil
}

func (s *Service) describe(a *model.Automation) *CreateResult {
	res := &CreateResult{AutomationID: a.ID, AlreadyExisted: true}
	if ts, err := a.Settings(); err == nil {
		res.ScheduledDate = ts.ScheduledDate
	}
	return res
}

// create stores a and step in one transaction. A concurrent create for the same
// source event that wins the unique index turns this call into a duplicate.
func (s *Service) create(ctx context.Context, a *model.Automation, step *model.Step, ts *model.TriggerSettings) (*CreateResult, error) {
	raw, err := ts.Encode()
	if err != nil {
		return nil, err
	}
	a.TriggerSettings = raw
	a.DueAt = ts.ScheduledDate
	a.Status = model.AutomationStatusPending
	a.IsActive = true

	created, err := s.automations.CreateWithStep(ctx, a, step)
	if err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}
	if !created {
		stored, err := s.automations.Get(ctx, a.ID)
		if err != nil {
			return &CreateResult{AutomationID: a.ID, AlreadyExisted: true}, nil
		}
		return s.describe(stored), nil
	}
	return &CreateResult{AutomationID: a.ID, ScheduledDate: ts.ScheduledDate}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Automation, error) {
	a, err := s.automations.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("automation", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filter model.AutomationFilter) ([]*model.Automation, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	list, err := s.automations.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	return list, nil
}

// Pause stops a pending automation from being dispatched.
func (s *Service) Pause(ctx context.Context, id int64) error {
	return s.move(ctx, id, model.AutomationStatusPending, model.AutomationStatusPaused, false)
}

// Resume makes a paused automation eligible again. Its due date is unchanged,
// so an overdue automation is sent on the next run.
func (s *Service) Resume(ctx context.Context, id int64) error {
	return s.move(ctx, id, model.AutomationStatusPaused, model.AutomationStatusPending, true)
}

func (s *Service) move(ctx context.Context, id int64, from, to model.AutomationStatus, active bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	ok, err := s.automations.Transition(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}
	if !ok {
		return apperrors.Conflict(fmt.Sprintf("automation %d is not %s", id, from), nil)
	}
	if _, err := s.automations.SetStatus(ctx, id, to, active); err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}
	s.logger.Info("Automation status changed", "automation_id", id, "from", string(from), "to", string(to))
	return nil
}

// Toggle is the operator override: any status except processing may be set.
func (s *Service) Toggle(ctx context.Context, id int64, status model.AutomationStatus, isActive bool) error {
	switch status {
	case model.AutomationStatusPending, model.AutomationStatusPaused, model.AutomationStatusCompleted:
	default:
		return apperrors.BadRequest(fmt.Sprintf("status %q cannot be set manually", status), nil)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	ok, err := s.automations.SetStatus(ctx, id, status, isActive)
	if err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}
	if !ok {
		return apperrors.Conflict("automation is being processed", nil)
	}
	s.logger.Info("Automation toggled", "automation_id", id, "status", string(status), "is_active", isActive)
	return nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/internal/service/automation"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

// ProductionDelayDays is how long after completion the review reminder is sent.
const ProductionDelayDays = 15

type TemplateLookup interface {
	GetByName(ctx context.Context, name string) (*model.Template, error)
}

type FollowupCreator interface {
	CreateFollowupAutomation(ctx context.Context, req *automation.FollowupRequest) (*automation.CreateResult, error)
}

// OrderResult is the outcome reported back to the webhook sender.
type OrderResult struct {
	Ignored        bool      `json:"-"`
	Reason         string    `json:"reason,omitempty"`
	OrderID        int64     `json:"orderId"`
	AutomationID   int64     `json:"automationId,omitempty"`
	ScheduledDate  time.Time `json:"scheduledDate,omitempty"`
	AlreadyExisted bool      `json:"alreadyExists,omitempty"`
}

type Service struct {
	templates   TemplateLookup
	subscribers repository.SubscriberRepository
	followups   FollowupCreator
	delayDays   int
	logger      *logger.Logger
}

// NewService builds the order ingestion flow. In development follow-ups are
// due immediately.
func NewService(
	templates TemplateLookup,
	subscribers repository.SubscriberRepository,
	followups FollowupCreator,
	development bool,
	logger *logger.Logger,
) *Service {
	delay := ProductionDelayDays
	if development {
		delay = 0
	}
	return &Service{
		templates:   templates,
		subscribers: subscribers,
		followups:   followups,
		delayDays:   delay,
		logger:      logger,
	}
}

// HandleOrder turns a completed order into a review reminder automation.
// Redelivered webhooks resolve to the automation created the first time.
func (s *Service) HandleOrder(ctx context.Context, order *model.WooOrder) (*OrderResult, error) {
	log := s.logger.WithFields(map[string]interface{}{"order_id": order.ID})

	if order.Status != model.WooStatusCompleted {
		log.Info("Order ignored, not completed", "status", order.Status)
		return &OrderResult{Ignored: true, Reason: "Order not completed", OrderID: order.ID}, nil
	}
	if err := validator.Validate(order); err != nil {
		return nil, err
	}

	tpl, err := s.templates.GetByName(ctx, model.TemplateReviewReminder)
	if errors.Is(err, repository.ErrNotFound) {
		log.Error(err, "Review reminder template missing")
		return nil, apperrors.Config(fmt.Sprintf("email template %q not found", model.TemplateReviewReminder), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	sub, err := s.subscribers.UpsertByEmail(ctx, &model.Subscriber{
		Email:     order.Billing.Email,
		FirstName: strings.TrimSpace(order.Billing.FirstName),
		LastName:  strings.TrimSpace(order.Billing.LastName),
		Phone:     strings.TrimSpace(order.Billing.Phone),
		Source:    model.SourceWooCommerceOrder,
		CustomAttributes: model.JSONMap{
			"lastOrderId":    order.ID,
			"lastOrderDate":  order.DateCompleted,
			"lastOrderTotal": order.Total,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}

	res, err := s.followups.CreateFollowupAutomation(ctx, &automation.FollowupRequest{
		OrderID:       order.ID,
		SubscriberID:  sub.ID,
		CustomerEmail: sub.Email,
		CustomerName:  strings.TrimSpace(order.Billing.FirstName + " " + order.Billing.LastName),
		TemplateID:    tpl.ID,
		DelayDays:     s.delayDays,
	})
	if err != nil {
		return nil, err
	}

	if res.AlreadyExisted {
		log.Info("Duplicate webhook blocked, automation already exists", "automation_id", res.AutomationID)
	} else {
		log.Info("Follow-up email scheduled",
			"automation_id", res.AutomationID,
			"scheduled_date", res.ScheduledDate,
			"delay_days", s.delayDays)
	}

	return &OrderResult{
		OrderID:        order.ID,
		AutomationID:   res.AutomationID,
		ScheduledDate:  res.ScheduledDate,
		AlreadyExisted: res.AlreadyExisted,
	}, nil
}

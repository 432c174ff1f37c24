package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

type TemplateLookup interface {
	GetByName(ctx context.Context, name string) (*model.Template, error)
}

// Deliverer sends one rendered envelope through the ledger.
type Deliverer interface {
	Deliver(ctx context.Context, env delivery.Envelope, cfg *model.EmailSettings) (*delivery.Result, error)
}

type CreateResult struct {
	NotificationID int64 `json:"notificationId"`
	AlreadyExisted bool  `json:"alreadyExists,omitempty"`
}

type RestockResult struct {
	EventID            int64 `json:"eventId"`
	NotificationsSent  int   `json:"notificationsSent"`
	Failed             int   `json:"failed"`
	Skipped            int   `json:"skipped"`
	TotalNotifications int   `json:"totalNotifications"`
}

// ClaimLease is how long a request may stay processing before ReclaimStale
// returns it to pending.
const ClaimLease = 30 * time.Minute

var errClaimed = errors.New("stock notification is already being sent")

type Service struct {
	stock       repository.StockRepository
	subscribers repository.SubscriberRepository
	settings    repository.SettingsRepository
	templates   TemplateLookup
	sender      Deliverer
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(
	stock repository.StockRepository,
	subscribers repository.SubscriberRepository,
	settings repository.SettingsRepository,
	templates TemplateLookup,
	sender Deliverer,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		stock:       stock,
		subscribers: subscribers,
		settings:    settings,
		templates:   templates,
		sender:      sender,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Create registers a "notify me" request. A pending request for the same
// subscriber, product and variant is returned instead of a new one.
func (s *Service) Create(ctx context.Context, in *model.StockSubscription) (*CreateResult, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	now := s.now()

	sub, err := s.subscribers.UpsertByEmail(ctx, &model.Subscriber{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Source:    model.SourceStockNotification,
		CustomAttributes: model.JSONMap{
			"lastStockRequest":       now.UTC().Format(time.RFC3339),
			"lastRequestedProductId": in.ProductID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}

	req := &model.StockRequest{
		SubscriberID: sub.ID,
		ProductID:    in.ProductID,
		ProductName:  in.ProductName,
		ProductSKU:   in.ProductSKU,
		Variant:      model.Variant(in.Variant),
		Status:       model.StockRequestPending,
		IsActive:     true,
		RequestDate:  now,
		ExpiresAt:    now.Add(model.StockRequestTTL),
		Metadata:     model.JSONMap(in.Metadata),
	}
	created, err := s.stock.CreateRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create stock notification: %w", err)
	}

	s.logger.Info("Stock notification registered",
		"notification_id", req.ID,
		"subscriber_id", sub.ID,
		"product_id", in.ProductID,
		"already_existed", !created)
	return &CreateResult{NotificationID: req.ID, AlreadyExisted: !created}, nil
}

// ProcessRestock records the stock event and, for a positive quantity, notifies
// every pending request for the product and exact variant immediately.
func (s *Service) ProcessRestock(ctx context.Context, upd *model.StockUpdate) (*RestockResult, error) {
	if err := validator.Validate(upd); err != nil {
		return nil, err
	}
	variant := model.Variant(upd.Variant)
	log := s.logger.WithFields(map[string]interface{}{"product_id": upd.ProductID, "variant": model.VariantLabel(variant)})

	evt := &model.StockEvent{
		ProductID:  upd.ProductID,
		ProductSKU: upd.ProductSKU,
		Variant:    variant,
		EventType:  "restock",
		Quantity:   upd.Quantity,
		EventDate:  s.now(),
		Metadata:   model.JSONMap{"productName": upd.ProductName},
	}
	if err := s.stock.CreateEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("failed to record stock event: %w", err)
	}

	res := &RestockResult{EventID: evt.ID}
	if upd.Quantity <= 0 {
		log.Info("Restock ignored, quantity not positive", "quantity", upd.Quantity)
		return res, nil
	}

	pending, err := s.stock.ListPendingForRestock(ctx, upd.ProductID, variant, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	res.TotalNotifications = len(pending)
	if len(pending) == 0 {
		s.markProcessed(ctx, log, res)
		return res, nil
	}

	tpl, cfg, err := s.prerequisites(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Sending stock notifications", "pending", len(pending))

	for _, req := range pending {
		sub, err := s.subscribers.Get(ctx, req.SubscriberID)
		if err != nil || !sub.IsActive {
			res.Skipped++
			continue
		}
		_, err = s.deliver(ctx, req, sub, tpl, cfg)
		if errors.Is(err, errClaimed) {
			log.Info("Stock notification claimed by another run", "notification_id", req.ID)
			res.Skipped++
			continue
		}
		if err != nil {
			log.Error(err, "Failed to send stock notification", "notification_id", req.ID)
			res.Failed++
			continue
		}
		res.NotificationsSent++
	}

	s.markProcessed(ctx, log, res)
	log.Info("Stock notifications processed",
		"sent", res.NotificationsSent,
		"failed", res.Failed,
		"skipped", res.Skipped)
	return res, nil
}

func (s *Service) markProcessed(ctx context.Context, log *logger.Logger, res *RestockResult) {
	meta := model.JSONMap{
		"notificationsSent":  res.NotificationsSent,
		"totalNotifications": res.TotalNotifications,
	}
	if err := s.stock.MarkEventProcessed(context.WithoutCancel(ctx), res.EventID, meta, s.now()); err != nil {
		log.Error(err, "Failed to mark stock event processed", "event_id", res.EventID)
	}
}

// SendNow notifies a single pending request immediately.
func (s *Service) SendNow(ctx context.Context, id int64) (*delivery.Result, error) {
	req, err := s.stock.GetRequest(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("stock notification", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stock notification: %w", err)
	}
	if req.Status != model.StockRequestPending || !req.IsActive {
		return nil, apperrors.Conflict(fmt.Sprintf("stock notification %d is %s", id, req.Status), nil)
	}

	sub, err := s.subscribers.Get(ctx, req.SubscriberID)
	if err != nil {
		return nil, apperrors.NotFound("subscriber", err)
	}
	if !sub.IsActive {
		return nil, apperrors.Conflict("subscriber is unsubscribed", nil)
	}

	tpl, cfg, err := s.prerequisites(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.deliver(ctx, req, sub, tpl, cfg)
	if errors.Is(err, errClaimed) {
		return nil, apperrors.Conflict(fmt.Sprintf("stock notification %d is already being sent", id), err)
	}
	if err != nil {
		return nil, &apperrors.AppError{Code: apperrors.ErrInternal, Message: "email delivery failed", Err: err}
	}
	return res, nil
}

func (s *Service) prerequisites(ctx context.Context) (*model.Template, *model.EmailSettings, error) {
	tpl, err := s.templates.GetByName(ctx, model.TemplateStockNotification)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperrors.Config(fmt.Sprintf("email template %q not found", model.TemplateStockNotification), err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load template: %w", err)
	}

	cfg, err := s.settings.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperrors.Config("no active email configuration found", err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load email settings: %w", err)
	}
	return tpl, cfg, nil
}

// deliver claims the request, sends the restock email and marks the request
// notified. A request already in the ledger is marked notified without a new
// send. A failed send returns the request to pending.
func (s *Service) deliver(ctx context.Context, req *model.StockRequest, sub *model.Subscriber, tpl *model.Template, cfg *model.EmailSettings) (*delivery.Result, error) {
	claimed, err := s.stock.Claim(ctx, req.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errClaimed
	}

	res, err := s.sender.Deliver(ctx, delivery.Envelope{
		LedgerKey:  model.StockRequestLedgerKey(req.ID),
		Kind:       delivery.KindStock,
		Subscriber: sub,
		Subject:    fmt.Sprintf("¡%s ya está disponible!", req.ProductName),
		HTML:       tpl.Content,
		Vars:       delivery.StockVars(sub, req, s.now()),
		Metadata: map[string]string{
			"notificationId": strconv.FormatInt(req.ID, 10),
			"subscriberId":   strconv.FormatInt(sub.ID, 10),
			"productId":      strconv.FormatInt(req.ProductID, 10),
			"productName":    req.ProductName,
			"productSku":     req.ProductSKU,
			"variant":        model.VariantLabel(req.Variant),
			"templateId":     strconv.FormatInt(tpl.ID, 10),
		},
	}, cfg)
	if err != nil {
		if rerr := s.stock.Release(context.WithoutCancel(ctx), req.ID); rerr != nil {
			s.logger.Error(rerr, "Failed to release stock notification", "notification_id", req.ID)
		}
		return nil, err
	}
	if err := s.stock.MarkNotified(context.WithoutCancel(ctx), req.ID, s.now()); err != nil {
		s.logger.Error(err, "Stock notification sent but not marked notified", "notification_id", req.ID)
	}
	return res, nil
}

func (s *Service) Cancel(ctx context.Context, id int64) error {
	err := s.stock.Cancel(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("stock notification", err)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel stock notification: %w", err)
	}
	s.logger.Info("Stock notification cancelled", "notification_id", id)
	return nil
}

func (s *Service) GetSubscriberPending(ctx context.Context, subscriberID int64) ([]*model.StockRequest, error) {
	list, err := s.stock.ListPendingBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock notifications: %w", err)
	}
	return list, nil
}

// ExpireOverdue closes pending requests past their expiry date.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.stock.ExpireBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stock notifications: %w", err)
	}
	if n > 0 {
		s.metrics.StockRequestsExpired.Add(float64(n))
		s.logger.Info("Expired stock notifications", "count", n)
	}
	return n, nil
}

// ReclaimStale returns requests stuck in processing past ClaimLease to pending.
// The ledger still stops a resend when the earlier attempt got the mail out.
func (s *Service) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := s.stock.ReclaimStale(ctx, s.now().Add(-ClaimLease))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stock notifications: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Reclaimed stock notifications with expired claim", "count", n)
	}
	return n, nil
}

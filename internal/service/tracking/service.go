package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

const (
	ReasonUserRequest = "user_request"

	SourceEmailLink       = "email_link"
	SourceListUnsubscribe = "list_unsubscribe"
	SourceAPI             = "api"
	SourceAdmin           = "admin"
)

// Client describes the request that produced an engagement event.
type Client struct {
	UserAgent string
	Referrer  string
}

func (c Client) metadata() model.JSONMap {
	return model.JSONMap{"userAgent": c.UserAgent, "referrer": c.Referrer}
}

type Service struct {
	sends       repository.SendRepository
	subscribers repository.SubscriberRepository
	events      repository.EmailEventRepository
	logger      *logger.Logger
	now         func() time.Time
}

func NewService(
	sends repository.SendRepository,
	subscribers repository.SubscriberRepository,
	events repository.EmailEventRepository,
	logger *logger.Logger,
) *Service {
	return &Service{
		sends:       sends,
		subscribers: subscribers,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordOpen stores an open for a known tracking id. Unknown ids are ignored so
// the pixel is always served.
func (s *Service) RecordOpen(ctx context.Context, trackingID string, client Client) error {
	rec, err := s.lookup(ctx, trackingID)
	if rec == nil || err != nil {
		return err
	}
	now := s.now()
	if err := s.record(ctx, rec, model.EmailEventOpen, "", client.metadata(), now); err != nil {
		return err
	}
	if err := s.sends.MarkOpened(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("failed to mark send opened: %w", err)
	}
	return nil
}

// RecordClick stores a click and returns where to send the browser. Targets
// that are not absolute http(s) URLs redirect to "/".
func (s *Service) RecordClick(ctx context.Context, trackingID, target string, client Client) (string, error) {
	redirect := SafeRedirect(target)
	if redirect == "/" {
		return redirect, nil
	}
	rec, err := s.lookup(ctx, trackingID)
	if rec == nil || err != nil {
		return redirect, err
	}
	return redirect, s.record(ctx, rec, model.EmailEventClick, redirect, client.metadata(), s.now())
}

// SafeRedirect accepts absolute http and https URLs only.
func SafeRedirect(target string) string {
	if target == "" {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "/"
	}
	return u.String()
}

// UnsubscribeByTracking handles the footer link. The subscriber id comes from
// the link; the tracking id only attributes the event to a send.
func (s *Service) UnsubscribeByTracking(ctx context.Context, trackingID string, subscriberID int64, source string, client Client) (*model.Subscriber, error) {
	if subscriberID <= 0 {
		return nil, apperrors.BadRequest("missing subscriber id", nil)
	}
	if source == "" {
		source = SourceEmailLink
	}
	sub, err := s.subscribers.Get(ctx, subscriberID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("subscriber", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}

	rec, err := s.lookup(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return sub, s.unsubscribe(ctx, sub, rec, ReasonUserRequest, source, client)
}

// UnsubscribeByEmail handles the preferences form and RFC 8058 one-click posts.
func (s *Service) UnsubscribeByEmail(ctx context.Context, email, reason, source string, client Client) (*model.Subscriber, error) {
	if err := validator.Var("email", email, "required,email"); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = ReasonUserRequest
	}
	if source == "" {
		source = SourceAPI
	}
	sub, err := s.subscribers.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("subscriber", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	return sub, s.unsubscribe(ctx, sub, nil, reason, source, client)
}

// UnsubscribeSubscriber is the operator action.
func (s *Service) UnsubscribeSubscriber(ctx context.Context, id int64, reason string) error {
	sub, err := s.subscribers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("subscriber", err)
	}
	if err != nil {
		return fmt.Errorf("failed to load subscriber: %w", err)
	}
	if reason == "" {
		reason = ReasonUserRequest
	}
	return s.unsubscribe(ctx, sub, nil, reason, SourceAdmin, Client{})
}

func (s *Service) Resubscribe(ctx context.Context, id int64) error {
	err := s.subscribers.Resubscribe(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("subscriber", err)
	}
	if err != nil {
		return fmt.Errorf("failed to resubscribe: %w", err)
	}
	s.logger.Info("Subscriber resubscribed", "subscriber_id", id)
	return nil
}

func (s *Service) unsubscribe(ctx context.Context, sub *model.Subscriber, rec *model.SendRecord, reason, source string, client Client) error {
	now := s.now()
	attrs := model.JSONMap{
		"unsubscribeReason":   reason,
		"unsubscribeSource":   source,
		"lastUnsubscribeDate": now.UTC().Format(time.RFC3339),
	}
	if err := s.subscribers.Unsubscribe(ctx, sub.ID, reason, attrs, now); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	meta := client.metadata()
	meta["source"] = source
	meta["reason"] = reason
	subID := sub.ID
	evt := &model.EmailEvent{
		SubscriberID: &subID,
		EventType:    model.EmailEventUnsubscribe,
		Metadata:     meta,
		OccurredAt:   now,
	}
	if rec != nil {
		sendID := rec.ID
		evt.SendID = &sendID
		evt.TrackingID = rec.TrackingID
	}
	if err := s.events.Create(ctx, evt); err != nil {
		s.logger.Error(err, "Failed to record unsubscribe event", "subscriber_id", sub.ID)
	}

	s.logger.Info("Subscriber unsubscribed", "subscriber_id", sub.ID, "source", source)
	return nil
}

// lookup returns nil without error for unknown tracking ids.
func (s *Service) lookup(ctx context.Context, trackingID string) (*model.SendRecord, error) {
	if trackingID == "" {
		return nil, nil
	}
	rec, err := s.sends.FindByTrackingID(ctx, trackingID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("Unknown tracking id", "tracking_id", trackingID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find send: %w", err)
	}
	return rec, nil
}

func (s *Service) record(ctx context.Context, rec *model.SendRecord, eventType model.EmailEventType, target string, meta model.JSONMap, at time.Time) error {
	sendID, subID := rec.ID, rec.SubscriberID
	err := s.events.Create(ctx, &model.EmailEvent{
		SendID:       &sendID,
		SubscriberID: &subID,
		TrackingID:   rec.TrackingID,
		EventType:    eventType,
		URL:          target,
		Metadata:     meta,
		OccurredAt:   at,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", eventType, err)
	}
	return nil
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/mailing-scheduler/internal/email"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

const (
	KindAutomation = "automation"
	KindStock      = "stock"
)

var (
	ErrNoRecipient  = errors.New("recipient not found")
	ErrUnsubscribed = errors.New("recipient is unsubscribed")
	ErrNoContent    = errors.New("no email content")
	ErrNoSubject    = errors.New("no email subject")
)

// Result describes one delivery. AlreadySent means the ledger already held a
// send for the work item and nothing went out.
type Result struct {
	Success     bool   `json:"success"`
	AlreadySent bool   `json:"alreadySent,omitempty"`
	SendID      int64  `json:"sendId,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	TrackingID  string `json:"trackingId,omitempty"`
}

// Envelope is a rendered-but-untracked email for one ledger key.
type Envelope struct {
	LedgerKey  string
	Kind       string
	Subscriber *model.Subscriber
	Subject    string
	HTML       string
	Vars       map[string]string
	Metadata   map[string]string
}

type Engine struct {
	sends       repository.SendRepository
	subscribers repository.SubscriberRepository
	events      repository.EmailEventRepository
	transports  email.Factory
	tracker     *Tracker
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewEngine(
	sends repository.SendRepository,
	subscribers repository.SubscriberRepository,
	events repository.EmailEventRepository,
	transports email.Factory,
	tracker *Tracker,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Engine {
	return &Engine{
		sends:       sends,
		subscribers: subscribers,
		events:      events,
		transports:  transports,
		tracker:     tracker,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// PrepareAndSend delivers the email of one automation step. tpl may be nil, in
// which case the step's inline subject and content are used.
func (e *Engine) PrepareAndSend(
	ctx context.Context,
	a *model.Automation,
	step *model.Step,
	tpl *model.Template,
	ts *model.TriggerSettings,
	cfg *model.EmailSettings,
) (*Result, error) {
	if res, err := e.ledger(ctx, a.LedgerKey()); res != nil || err != nil {
		return res, err
	}

	sub, err := e.subscribers.Get(ctx, ts.SubscriberID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: subscriber %d", ErrNoRecipient, ts.SubscriberID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	if !sub.IsActive {
		return nil, fmt.Errorf("%w: subscriber %d", ErrUnsubscribed, sub.ID)
	}

	subject, content := step.Subject, step.Content
	if tpl != nil {
		if tpl.Subject != "" {
			subject = tpl.Subject
		}
		if tpl.Content != "" {
			content = tpl.Content
		}
	}

	meta := map[string]string{
		"automationId":  strconv.FormatInt(a.ID, 10),
		"sourceEventId": ts.SourceEventID,
		"subscriberId":  strconv.FormatInt(sub.ID, 10),
	}
	if tpl != nil {
		meta["templateId"] = strconv.FormatInt(tpl.ID, 10)
	}

	return e.Deliver(ctx, Envelope{
		LedgerKey:  a.LedgerKey(),
		Kind:       KindAutomation,
		Subscriber: sub,
		Subject:    subject,
		HTML:       content,
		Vars:       AutomationVars(sub, ts, e.now()),
		Metadata:   meta,
	}, cfg)
}

// Deliver checks the ledger, personalizes and tracks the envelope, sends it,
// and records the send. Nothing is recorded when the transport fails.
func (e *Engine) Deliver(ctx context.Context, env Envelope, cfg *model.EmailSettings) (*Result, error) {
	if res, err := e.ledger(ctx, env.LedgerKey); res != nil || err != nil {
		return res, err
	}
	if env.Subscriber == nil {
		return nil, ErrNoRecipient
	}
	if env.HTML == "" {
		return nil, ErrNoContent
	}
	if env.Subject == "" {
		return nil, ErrNoSubject
	}

	sub := env.Subscriber
	subject := Render(env.Subject, env.Vars)
	content := Render(env.HTML, env.Vars)
	trackingID := uuid.NewString()

	transport, err := e.transports.Transport(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure email transport: %w", err)
	}

	metadata := make(map[string]string, len(env.Metadata)+1)
	for k, v := range env.Metadata {
		metadata[k] = v
	}
	metadata["trackingId"] = trackingID

	msg := &email.Message{
		To:       sub.Email,
		From:     email.Address{Name: cfg.DefaultFromName, Email: cfg.DefaultFromEmail},
		ReplyTo:  cfg.ReplyTo(),
		Subject:  subject,
		HTML:     e.tracker.Rewrite(content, trackingID, sub.ID, sub.Email),
		Headers:  e.tracker.Headers(cfg.DefaultFromEmail, sub.Email),
		Metadata: metadata,
	}

	timer := prometheus.NewTimer(e.metrics.SendLatency)
	sent, err := transport.Send(ctx, msg)
	timer.ObserveDuration()
	if err != nil {
		e.metrics.EmailsFailed.WithLabelValues(env.Kind).Inc()
		return nil, err
	}
	e.metrics.EmailsSent.WithLabelValues(env.Kind).Inc()

	ctx = context.WithoutCancel(ctx)

	recMeta := model.JSONMap{"messageId": sent.MessageID}
	for k, v := range metadata {
		recMeta[k] = v
	}
	rec := &model.SendRecord{
		SubscriberID: sub.ID,
		LedgerKey:    env.LedgerKey,
		TrackingID:   trackingID,
		MessageID:    sent.MessageID,
		Status:       model.SendStatusSent,
		Subject:      subject,
		EmailContent: content,
		Metadata:     recMeta,
		SentAt:       e.now(),
	}
	// The mail is already out: a ledger write error is logged and the send still counts.
	created, err := e.sends.Create(ctx, rec)
	switch {
	case err != nil:
		e.logger.Error(err, "Email sent but send record could not be written",
			"ledger_key", env.LedgerKey, "message_id", sent.MessageID)
	case !created:
		e.logger.Warn("Ledger key was recorded by a concurrent send",
			"ledger_key", env.LedgerKey, "message_id", sent.MessageID)
	}

	e.recordSent(ctx, rec)

	e.logger.Info("Email sent",
		"ledger_key", env.LedgerKey,
		"to", sub.Email,
		"message_id", sent.MessageID,
		"tracking_id", trackingID)

	return &Result{
		Success:    true,
		SendID:     rec.ID,
		MessageID:  sent.MessageID,
		TrackingID: trackingID,
	}, nil
}

// ledger returns a result when key already has a successful send.
func (e *Engine) ledger(ctx context.Context, key string) (*Result, error) {
	rec, err := e.sends.FindByLedgerKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check send ledger: %w", err)
	}
	e.metrics.LedgerSkipped.Inc()
	e.logger.Info("Email already sent, skipping", "ledger_key", key, "send_id", rec.ID)
	return &Result{
		Success:     true,
		AlreadySent: true,
		SendID:      rec.ID,
		MessageID:   rec.MessageID,
		TrackingID:  rec.TrackingID,
	}, nil
}

func (e *Engine) recordSent(ctx context.Context, rec *model.SendRecord) {
	subID := rec.SubscriberID
	evt := &model.EmailEvent{
		SubscriberID: &subID,
		TrackingID:   rec.TrackingID,
		EventType:    model.EmailEventSent,
		Metadata:     model.JSONMap{"ledgerKey": rec.LedgerKey, "messageId": rec.MessageID},
		OccurredAt:   rec.SentAt,
	}
	if rec.ID > 0 {
		sendID := rec.ID
		evt.SendID = &sendID
	}
	if err := e.events.Create(ctx, evt); err != nil {
		e.logger.Error(err, "Failed to record sent event", "tracking_id", rec.TrackingID)
	}
}

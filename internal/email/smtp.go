package email

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

type SMTPOptions struct {
	Rate               rate.Limit
	Burst              int
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenFor     time.Duration
}

func (o SMTPOptions) withDefaults() SMTPOptions {
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerMaxFailures == 0 {
		o.BreakerMaxFailures = 5
	}
	if o.BreakerOpenFor <= 0 {
		o.BreakerOpenFor = time.Minute
	}
	return o
}

// sender abstracts gomail's dialer so the transport can be exercised without a server.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpFactory struct {
	opts    SMTPOptions
	limiter *rate.Limiter
	logger  *logger.Logger
	dial    func(cfg model.SMTPSettings) sender

	mu         sync.Mutex
	transports map[string]*smtpTransport
}

// NewSMTPFactory returns a factory whose transports share one send-rate limiter.
// Transports are cached per server and account so breaker state survives between runs.
func NewSMTPFactory(opts SMTPOptions, log *logger.Logger) Factory {
	opts = opts.withDefaults()
	return &smtpFactory{
		opts:       opts,
		limiter:    rate.NewLimiter(opts.Rate, opts.Burst),
		logger:     log,
		dial:       newDialer,
		transports: make(map[string]*smtpTransport),
	}
}

func newDialer(cfg model.SMTPSettings) sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Secure
	return d
}

func (f *smtpFactory) Transport(settings *model.EmailSettings) (Transport, error) {
	if settings == nil {
		return nil, fmt.Errorf("no active email settings")
	}
	if settings.ProviderType != model.ProviderSMTP {
		return nil, &ErrUnsupportedProvider{Provider: settings.ProviderType}
	}
	cfg, err := settings.SMTP()
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%d:%s", cfg.Host, cfg.Port, cfg.Username)

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[key]; ok && t.cfg == cfg {
		return t, nil
	}

	t := &smtpTransport{
		cfg:     cfg,
		dialer:  f.dial(cfg),
		limiter: f.limiter,
		timeout: f.opts.Timeout,
		logger:  f.logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp:" + cfg.Host,
			MaxRequests: 1,
			Timeout:     f.opts.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= f.opts.BreakerMaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("SMTP circuit breaker changed state",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
	f.transports[key] = t
	return t, nil
}

type smtpTransport struct {
	cfg     model.SMTPSettings
	dialer  sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logger.Logger
}

func (t *smtpTransport) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("message has no recipient")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate limit: %w", err)
	}

	messageID := newMessageID(msg.From.Email)
	m := t.build(msg, messageID)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.breaker.Execute(func() (interface{}, error) {
		done := make(chan error, 1)
		go func() { done <- t.dialer.DialAndSend(m) }()
		select {
		case err := <-done:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("smtp send to %s failed: %w", msg.To, err)
	}

	t.logger.Debug("Email sent via SMTP", "to", msg.To, "message_id", messageID)
	return &SendResult{MessageID: messageID}, nil
}

func (t *smtpTransport) build(msg *Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(msg.From.Email, msg.From.Name))
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	for k, v := range msg.Metadata {
		m.SetHeader("X-Metadata-"+k, v)
	}

	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}
	return m
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", ulid.Make().String(), domain)
}

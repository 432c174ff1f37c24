package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

type fakeDialer struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func smtpSettings() *model.EmailSettings {
	return &model.EmailSettings{
		ProviderType: model.ProviderSMTP,
		ProviderConfig: model.JSONMap{
			"host":     "smtp.example.com",
			"port":     float64(465),
			"username": "mailer",
			"password": "secret",
		},
		DefaultFromName:  "Tienda",
		DefaultFromEmail: "hola@tienda.es",
		IsActive:         true,
	}
}

func newTestFactory(d *fakeDialer, opts SMTPOptions) *smtpFactory {
	f := NewSMTPFactory(opts, logger.Nop()).(*smtpFactory)
	f.dial = func(model.SMTPSettings) sender { return d }
	return f
}

func TestFactoryRejectsUnsupportedProvider(t *testing.T) {
	f := newTestFactory(&fakeDialer{}, SMTPOptions{})
	settings := smtpSettings()
	settings.ProviderType = "sendgrid"

	_, err := f.Transport(settings)

	var unsupported *ErrUnsupportedProvider
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "sendgrid", unsupported.Provider)
	assert.Contains(t, err.Error(), "unsupported email provider")
}

func TestFactoryRequiresSMTPCredentials(t *testing.T) {
	f := newTestFactory(&fakeDialer{}, SMTPOptions{})
	settings := smtpSettings()
	delete(settings.ProviderConfig, "password")

	_, err := f.Transport(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestFactoryReusesTransport(t *testing.T) {
	f := newTestFactory(&fakeDialer{}, SMTPOptions{})

	first, err := f.Transport(smtpSettings())
	require.NoError(t, err)
	second, err := f.Transport(smtpSettings())
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestSMTPSendSetsHeaders(t *testing.T) {
	d := &fakeDialer{}
	tr, err := newTestFactory(d, SMTPOptions{}).Transport(smtpSettings())
	require.NoError(t, err)

	res, err := tr.Send(context.Background(), &Message{
		To:       "ana@example.com",
		From:     Address{Name: "Tienda", Email: "hola@tienda.es"},
		Subject:  "Hola",
		HTML:     "<p>hola</p>",
		Headers:  map[string]string{"List-Unsubscribe-Post": "List-Unsubscribe=One-Click"},
		Metadata: map[string]string{"automationId": "7"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.MessageID, "<"))
	assert.True(t, strings.HasSuffix(res.MessageID, "@tienda.es>"))

	require.Len(t, d.sent, 1)
	m := d.sent[0]
	assert.Equal(t, []string{"ana@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{res.MessageID}, m.GetHeader("Message-ID"))
	assert.Equal(t, []string{"7"}, m.GetHeader("X-Metadata-automationId"))
	assert.Equal(t, []string{"List-Unsubscribe=One-Click"}, m.GetHeader("List-Unsubscribe-Post"))
}

func TestSMTPBreakerOpensAfterFailures(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	tr, err := newTestFactory(d, SMTPOptions{BreakerMaxFailures: 2, BreakerOpenFor: time.Hour}).Transport(smtpSettings())
	require.NoError(t, err)

	msg := &Message{To: "ana@example.com", From: Address{Email: "hola@tienda.es"}, Subject: "x", HTML: "x"}
	for i := 0; i < 2; i++ {
		_, err := tr.Send(context.Background(), msg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	}

	d.err = nil
	_, err = tr.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Empty(t, d.sent)
}

func TestMessageIDFallsBackToLocalhost(t *testing.T) {
	assert.True(t, strings.HasSuffix(newMessageID(""), "@localhost>"))
}

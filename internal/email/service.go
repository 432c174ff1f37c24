package email

import (
	"context"
	"fmt"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
)

type Address struct {
	Name  string
	Email string
}

// Message is one outgoing email. HTML is sent as-is; tracking has already been applied.
type Message struct {
	To       string
	From     Address
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
	Metadata map[string]string
}

type SendResult struct {
	MessageID string
}

// Transport delivers a message to the provider.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// Factory builds the transport matching the active email settings.
type Factory interface {
	Transport(settings *model.EmailSettings) (Transport, error)
}

// ErrUnsupportedProvider is returned for any provider type other than smtp.
type ErrUnsupportedProvider struct {
	Provider string
}

func (e *ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported email provider: %s", e.Provider)
}

// Package emailtest provides an in-memory transport for tests.
package emailtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/email"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
)

// Recorder captures sent messages. It serves as both Factory and Transport.
type Recorder struct {
	mu   sync.Mutex
	sent []email.Message
	seq  int

	// Err, when set, fails every send.
	Err error
	// FactoryErr, when set, fails transport construction.
	FactoryErr error
	// Delay is slept before each send, outside the lock.
	Delay time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Transport(settings *model.EmailSettings) (email.Transport, error) {
	if r.FactoryErr != nil {
		return nil, r.FactoryErr
	}
	return r, nil
}

func (r *Recorder) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	r.mu.Lock()
	delay := r.Delay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.seq++
	r.sent = append(r.sent, *msg)
	return &email.SendResult{MessageID: fmt.Sprintf("<test-%d@example.com>", r.seq)}, nil
}

// Sent returns a copy of every delivered message.
func (r *Recorder) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]email.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

func (r *Recorder) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Delay = d
}

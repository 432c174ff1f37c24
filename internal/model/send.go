package model

import (
	"fmt"
	"time"
)

const SendStatusSent = "sent"

// SendRecord is the ledger row written after a successful transport call.
// LedgerKey is unique, which makes a second send for the same work item detectable.
type SendRecord struct {
	ID           int64      `db:"id" json:"id"`
	SubscriberID int64      `db:"subscriber_id" json:"subscriber_id"`
	LedgerKey    string     `db:"ledger_key" json:"ledger_key"`
	TrackingID   string     `db:"tracking_id" json:"tracking_id"`
	MessageID    string     `db:"message_id" json:"message_id"`
	Status       string     `db:"status" json:"status"`
	Subject      string     `db:"subject" json:"subject"`
	EmailContent string     `db:"email_content" json:"-"`
	Metadata     JSONMap    `db:"metadata" json:"metadata"`
	SentAt       time.Time  `db:"sent_at" json:"sent_at"`
	OpenedAt     *time.Time `db:"opened_at" json:"opened_at,omitempty"`
}

func AutomationLedgerKey(automationID int64) string {
	return fmt.Sprintf("automation:%d", automationID)
}

func StockRequestLedgerKey(requestID int64) string {
	return fmt.Sprintf("stock_request:%d", requestID)
}

type EmailEventType string

const (
	EmailEventSent        EmailEventType = "sent"
	EmailEventOpen        EmailEventType = "open"
	EmailEventClick       EmailEventType = "click"
	EmailEventUnsubscribe EmailEventType = "unsubscribe"
)

// EmailEvent is an engagement or delivery fact. Unpublished rows are relayed to the broker.
type EmailEvent struct {
	ID           int64          `db:"id" json:"id"`
	SendID       *int64         `db:"send_id" json:"send_id,omitempty"`
	SubscriberID *int64         `db:"subscriber_id" json:"subscriber_id,omitempty"`
	TrackingID   string         `db:"tracking_id" json:"tracking_id"`
	EventType    EmailEventType `db:"event_type" json:"event_type"`
	URL          string         `db:"url" json:"url,omitempty"`
	Metadata     JSONMap        `db:"metadata" json:"metadata"`
	OccurredAt   time.Time      `db:"occurred_at" json:"occurred_at"`
	PublishedAt  *time.Time     `db:"published_at" json:"published_at,omitempty"`
}

// Channel is the broker channel the relay publishes the event on.
func (e *EmailEvent) Channel() string {
	return "email." + string(e.EventType)
}

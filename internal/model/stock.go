package model

import (
	"strings"
	"time"
)

type StockRequestStatus string

const (
	StockRequestPending    StockRequestStatus = "pending"
	StockRequestProcessing StockRequestStatus = "processing"
	StockRequestNotified   StockRequestStatus = "notified"
	StockRequestCancelled  StockRequestStatus = "cancelled"
	StockRequestExpired    StockRequestStatus = "expired"
)

// StockRequestTTL is how long a notify-me request stays eligible.
const StockRequestTTL = 180 * 24 * time.Hour

// StockRequest is a customer's "notify me when available" registration.
// At most one open (pending or processing) request exists per
// (subscriber, product, variant).
type StockRequest struct {
	ID           int64              `db:"id" json:"id"`
	SubscriberID int64              `db:"subscriber_id" json:"subscriber_id"`
	ProductID    int64              `db:"product_id" json:"product_id"`
	ProductName  string             `db:"product_name" json:"product_name"`
	ProductSKU   string             `db:"product_sku" json:"product_sku"`
	Variant      *string            `db:"variant" json:"variant,omitempty"`
	Status       StockRequestStatus `db:"status" json:"status"`
	IsActive     bool               `db:"is_active" json:"is_active"`
	RequestDate  time.Time          `db:"request_date" json:"request_date"`
	ExpiresAt    time.Time          `db:"expires_at" json:"expires_at"`
	ClaimedAt    *time.Time         `db:"claimed_at" json:"claimed_at,omitempty"`
	NotifiedAt   *time.Time         `db:"notified_at" json:"notified_at,omitempty"`
	Metadata     JSONMap            `db:"metadata" json:"metadata"`
}

// StockEvent is the audit row written for every restock webhook.
type StockEvent struct {
	ID          int64      `db:"id" json:"id"`
	ProductID   int64      `db:"product_id" json:"product_id"`
	ProductSKU  string     `db:"product_sku" json:"product_sku"`
	Variant     *string    `db:"variant" json:"variant,omitempty"`
	EventType   string     `db:"event_type" json:"event_type"`
	Quantity    int        `db:"quantity" json:"quantity"`
	EventDate   time.Time  `db:"event_date" json:"event_date"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	Metadata    JSONMap    `db:"metadata" json:"metadata"`
}

// Variant turns a blank variant into nil so "no variant" is its own bucket.
func Variant(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// SameVariant compares variants treating nil only equal to nil.
func SameVariant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// VariantLabel renders a variant for templates.
func VariantLabel(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

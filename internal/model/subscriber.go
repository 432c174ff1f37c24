package model

import (
	"strings"
	"time"
)

const (
	SourceWooCommerceOrder  = "woocommerce_order"
	SourceStockNotification = "stock_notification"
)

type Subscriber struct {
	ID                int64      `db:"id" json:"id"`
	Email             string     `db:"email" json:"email"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Phone             string     `db:"phone" json:"phone,omitempty"`
	Source            string     `db:"source" json:"source"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	UnsubscribedAt    *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	UnsubscribeReason string     `db:"unsubscribe_reason" json:"unsubscribe_reason,omitempty"`
	CustomAttributes  JSONMap    `db:"custom_attributes" json:"custom_attributes"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts, ignoring blanks.
func (s *Subscriber) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// NormalizeEmail lowercases and trims an address before it is used as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

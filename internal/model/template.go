package model

import "time"

// Template names the ingestion paths look up. A missing one is a configuration error.
const (
	TemplateReviewReminder    = "Review reminder"
	TemplateStockNotification = "Stock notification"
)

type Template struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

type TriggerType string

const (
	TriggerOrderCompleted TriggerType = "order_completed"
	TriggerRestock        TriggerType = "restock"
	TriggerScheduled      TriggerType = "scheduled"
)

type AutomationStatus string

const (
	AutomationStatusPending    AutomationStatus = "pending"
	AutomationStatusProcessing AutomationStatus = "processing"
	AutomationStatusCompleted  AutomationStatus = "completed"
	AutomationStatusFailed     AutomationStatus = "failed"
	AutomationStatusPaused     AutomationStatus = "paused"
)

// Terminal reports whether the dispatcher will never pick the status up again.
func (s AutomationStatus) Terminal() bool {
	return s == AutomationStatusCompleted || s == AutomationStatusFailed
}

type StepType string

const StepSendEmail StepType = "send_email"

// Automation is one scheduled email tied to the business event that caused it.
// (TriggerType, SourceEventID) is unique.
type Automation struct {
	ID              int64            `db:"id" json:"id"`
	Name            string           `db:"name" json:"name"`
	Description     string           `db:"description" json:"description"`
	TriggerType     TriggerType      `db:"trigger_type" json:"trigger_type"`
	SourceEventID   string           `db:"source_event_id" json:"source_event_id"`
	TriggerSettings RawJSON          `db:"trigger_settings" json:"trigger_settings"`
	Status          AutomationStatus `db:"status" json:"status"`
	IsActive        bool             `db:"is_active" json:"is_active"`
	// DueAt mirrors the scheduled date of the trigger settings so the due scan
	// can filter and order on an indexed column.
	DueAt     time.Time `db:"due_at" json:"due_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Step is one action of an automation. Only the first active step is executed.
type Step struct {
	ID           int64     `db:"id" json:"id"`
	AutomationID int64     `db:"automation_id" json:"automation_id"`
	StepOrder    int       `db:"step_order" json:"step_order"`
	StepType     StepType  `db:"step_type" json:"step_type"`
	TemplateID   *int64    `db:"template_id" json:"template_id,omitempty"`
	Subject      string    `db:"subject" json:"subject"`
	Content      string    `db:"content" json:"content"`
	WaitDuration int       `db:"wait_duration" json:"wait_duration"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TriggerSettings is the typed view of an automation's trigger_settings column.
type TriggerSettings struct {
	SourceEventID string                 `json:"sourceEventId" validate:"required"`
	OrderID       int64                  `json:"orderId,omitempty"`
	ScheduledDate time.Time              `json:"scheduledDate" validate:"required"`
	SubscriberID  int64                  `json:"subscriberId" validate:"gt=0"`
	CustomerEmail string                 `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerName  string                 `json:"customerName,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Encode validates s and serializes it for storage.
func (s *TriggerSettings) Encode() (RawJSON, error) {
	if err := validator.Validate(s); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger settings: %w", err)
	}
	return data, nil
}

// Settings decodes and validates the trigger settings. Rows written before
// sourceEventId existed fall back to the order id.
func (a *Automation) Settings() (*TriggerSettings, error) {
	if len(a.TriggerSettings) == 0 {
		return nil, fmt.Errorf("automation %d has no trigger settings", a.ID)
	}

	var s TriggerSettings
	if err := json.Unmarshal(a.TriggerSettings, &s); err != nil {
		return nil, fmt.Errorf("automation %d has malformed trigger settings: %w", a.ID, err)
	}
	if s.SourceEventID == "" {
		switch {
		case a.SourceEventID != "":
			s.SourceEventID = a.SourceEventID
		case s.OrderID > 0:
			s.SourceEventID = strconv.FormatInt(s.OrderID, 10)
		}
	}
	if err := validator.Validate(&s); err != nil {
		return nil, fmt.Errorf("automation %d has invalid trigger settings: %w", a.ID, err)
	}
	return &s, nil
}

// Due reports whether the settings' scheduled instant has passed.
func (s *TriggerSettings) Due(now time.Time) bool {
	return !s.ScheduledDate.After(now)
}

// LedgerKey identifies the single send an automation may produce.
func (a *Automation) LedgerKey() string {
	return AutomationLedgerKey(a.ID)
}

// AutomationFilter narrows admin listings.
type AutomationFilter struct {
	Status      AutomationStatus
	TriggerType TriggerType
	Limit       int
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

const automationColumns = `id, name, description, trigger_type, source_event_id, trigger_settings,
	status, is_active, due_at, created_at, updated_at`

const stepColumns = `id, automation_id, step_order, step_type, template_id,
	COALESCE(subject, '') AS subject, COALESCE(content, '') AS content,
	wait_duration, is_active, created_at`

type automationRepository struct {
	BaseRepository
}

func NewAutomationRepository(base BaseRepository) repository.AutomationRepository {
	return &automationRepository{base}
}

func (r *automationRepository) CreateWithStep(ctx context.Context, a *model.Automation, step *model.Step) (bool, error) {
	if step == nil {
		return false, fmt.Errorf("automation requires a step")
	}

	created := false
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now()
		query := `
			INSERT INTO email_automations (
				name, description, trigger_type, source_event_id, trigger_settings,
				status, is_active, due_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (trigger_type, source_event_id) DO NOTHING
			RETURNING id
		`
		var id int64
		err := tx.GetContext(ctx, &id, query,
			a.Name,
			a.Description,
			a.TriggerType,
			a.SourceEventID,
			a.TriggerSettings,
			a.Status,
			a.IsActive,
			a.DueAt,
			now,
		)
		if errors.Is(err, sql.ErrNoRows) {
			existing := `SELECT id FROM email_automations WHERE trigger_type = $1 AND source_event_id = $2`
			if err := tx.GetContext(ctx, &a.ID, existing, a.TriggerType, a.SourceEventID); err != nil {
				return fmt.Errorf("failed to load existing automation: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert automation: %w", err)
		}

		step.AutomationID = id
		step.CreatedAt = now
		stepQuery := `
			INSERT INTO automation_steps (
				automation_id, step_order, step_type, template_id, subject, content,
				wait_duration, is_active, created_at
			) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
			RETURNING id
		`
		if err := tx.GetContext(ctx, &step.ID, stepQuery,
			step.AutomationID,
			step.StepOrder,
			step.StepType,
			step.TemplateID,
			step.Subject,
			step.Content,
			step.WaitDuration,
			step.IsActive,
			step.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert automation step: %w", err)
		}

		a.ID = id
		a.CreatedAt = now
		a.UpdatedAt = now
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *automationRepository) Get(ctx context.Context, id int64) (*model.Automation, error) {
	var a model.Automation
	query := `SELECT ` + automationColumns + ` FROM email_automations WHERE id = $1`
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *automationRepository) FindBySourceEvent(ctx context.Context, triggerType model.TriggerType, sourceEventID string) (*model.Automation, error) {
	var a model.Automation
	query := `SELECT ` + automationColumns + `
		FROM email_automations
		WHERE trigger_type = $1 AND source_event_id = $2
		LIMIT 1`
	if err := r.db.GetContext(ctx, &a, query, triggerType, sourceEventID); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *automationRepository) List(ctx context.Context, filter model.AutomationFilter) ([]*model.Automation, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TriggerType != "" {
		args = append(args, filter.TriggerType)
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}

	query := `SELECT ` + automationColumns + ` FROM email_automations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var out []*model.Automation
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	return out, nil
}

func (r *automationRepository) ListDue(ctx context.Context, triggerTypes []model.TriggerType, now time.Time, limit int) ([]*model.Automation, error) {
	types := make([]string, len(triggerTypes))
	for i, t := range triggerTypes {
		types[i] = string(t)
	}

	query := `SELECT ` + automationColumns + `
		FROM email_automations
		WHERE is_active = true
		AND status = 'pending'
		AND trigger_type = ANY($1)
		AND due_at <= $2
		ORDER BY due_at, id
		LIMIT $3`

	var out []*model.Automation
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(types), now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due automations: %w", err)
	}
	return out, nil
}

func (r *automationRepository) Transition(ctx context.Context, id int64, from, to model.AutomationStatus) (bool, error) {
	query := `
		UPDATE email_automations
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id
	`
	var claimed int64
	err := r.db.GetContext(ctx, &claimed, query, id, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition automation %d: %w", id, err)
	}
	return true, nil
}

func (r *automationRepository) Finish(ctx context.Context, id int64, status model.AutomationStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	query := `
		UPDATE email_automations
		SET status = $2, is_active = false, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return false, fmt.Errorf("failed to finish automation %d: %w", id, err)
	}
	return affected(res)
}

func (r *automationRepository) SetStatus(ctx context.Context, id int64, status model.AutomationStatus, isActive bool) (bool, error) {
	query := `
		UPDATE email_automations
		SET status = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, id, status, isActive)
	if err != nil {
		return false, fmt.Errorf("failed to set automation status: %w", err)
	}
	return affected(res)
}

func (r *automationRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE email_automations
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale automations: %w", err)
	}
	return res.RowsAffected()
}

func (r *automationRepository) FirstActiveStep(ctx context.Context, automationID int64) (*model.Step, error) {
	var s model.Step
	query := `SELECT ` + stepColumns + `
		FROM automation_steps
		WHERE automation_id = $1 AND is_active = true
		ORDER BY step_order ASC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &s, query, automationID); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

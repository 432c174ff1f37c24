// Package worker holds the maintenance jobs the worker binary runs on its
// cron scheduler next to the dispatch run.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

type Reclaimer interface {
	ReclaimStale(ctx context.Context) (int64, error)
}

type StockExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// Job is a task run on a fixed interval. The services it calls log their own
// results; Schedule only logs failures.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// LeaseReclaim returns automations stuck in processing to pending so a
// crashed dispatcher run does not strand them.
func LeaseReclaim(r Reclaimer, every time.Duration) Job {
	return Job{Name: "lease_reclaim", Every: every, Run: func(ctx context.Context) error {
		_, err := r.ReclaimStale(ctx)
		return err
	}}
}

// StockReclaim does the same for stock requests left processing.
func StockReclaim(r Reclaimer, every time.Duration) Job {
	return Job{Name: "stock_reclaim", Every: every, Run: func(ctx context.Context) error {
		_, err := r.ReclaimStale(ctx)
		return err
	}}
}

// StockExpiry moves pending stock requests past their expiry date to expired.
func StockExpiry(e StockExpirer, every time.Duration) Job {
	return Job{Name: "stock_expiry", Every: every, Run: func(ctx context.Context) error {
		_, err := e.ExpireOverdue(ctx)
		return err
	}}
}

// Schedule adds each job to c as an "@every" entry. Runs share ctx, so
// cancelling it aborts in-flight work after the scheduler stops.
func Schedule(ctx context.Context, c *cron.Cron, log *logger.Logger, jobs ...Job) error {
	for _, job := range jobs {
		job := job
		if job.Every <= 0 {
			return fmt.Errorf("job %s: interval must be positive, got %s", job.Name, job.Every)
		}
		_, err := c.AddFunc("@every "+job.Every.String(), func() {
			if err := job.Run(ctx); err != nil {
				log.Error(err, "Maintenance job failed", "job", job.Name)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
		}
		log.Info("Maintenance job scheduled", "job", job.Name, "every", job.Every.String())
	}
	return nil
}

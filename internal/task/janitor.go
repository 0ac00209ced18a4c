package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/store"

	gocron "github.com/go-co-op/gocron/v2"
)

// Janitor periodically deletes finished tasks older than the retention
// age. Pending and running tasks are never swept.
type Janitor struct {
	scheduler gocron.Scheduler
	store     *store.Store
	keep      time.Duration
}

// NewJanitor validates the cron schedule and retention age and prepares
// the sweep job. Start must be called to activate it.
func NewJanitor(st *store.Store, schedule, retention string) (*Janitor, error) {
	if err := model.ValidateCron(schedule); err != nil {
		return nil, fmt.Errorf("parsing cleanup schedule: %w", err)
	}
	keep, err := model.ParseRetention(retention)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup retention: %w", err)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing cleanup scheduler: %w", err)
	}

	j := &Janitor{
		scheduler: sched,
		store:     st,
		keep:      keep,
	}
	_, err = sched.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() { j.Sweep(context.Background()) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing cleanup job: %w", err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.scheduler.Start()
}

func (j *Janitor) Close() error {
	return j.scheduler.Shutdown()
}

// Sweep deletes terminal tasks which finished before now-retention.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.keep)
	n, err := j.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "cleanup sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "cleanup sweep", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// Package task is the execution core: it admits scan submissions
// against a global concurrency ceiling, supervises the external process
// through a runner, normalizes its output, and persists every status
// transition through the store. Submission callers wait at most their
// budget; the scan itself runs identically whether or not anyone is
// still waiting.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/scantaskd/scantaskd/internal/log"
	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/nmap"
	"github.com/scantaskd/scantaskd/internal/runner"
	"github.com/scantaskd/scantaskd/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence surface the scheduler drives.
type Store interface {
	Create(ctx context.Context, t model.Task) error
	Get(ctx context.Context, id string) (model.Task, error)
	Transition(ctx context.Context, id string, to model.Status, payload store.TransitionPayload) error
	Delete(ctx context.Context, id string) error
}

type Scheduler struct {
	store       Store
	group       *errgroup.Group
	ceiling     int
	scanTimeout time.Duration
	running     atomic.Int32
}

// NewScheduler builds a scheduler admitting at most maxConcurrent
// simultaneous scans, each bounded by the hard scanTimeout.
func NewScheduler(st Store, maxConcurrent int, scanTimeout time.Duration) *Scheduler {
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrent)
	return &Scheduler{
		store:       st,
		group:       g,
		ceiling:     maxConcurrent,
		scanTimeout: scanTimeout,
	}
}

// SubmitRequest describes one scan submission. Command is the complete
// argument vector for the external tool; Wait bounds how long Submit
// blocks before degrading to an identifier-only answer.
type SubmitRequest struct {
	Type    model.TaskType
	Target  string
	Command []string
	Wait    time.Duration
}

func (r SubmitRequest) validate() error {
	if len(r.Command) == 0 {
		return errors.New("empty scan command")
	}
	if r.Wait <= 0 {
		return fmt.Errorf("wait budget must be positive, got %s", r.Wait)
	}
	return nil
}

// Submit creates a task and races its execution against the wait
// budget. When execution finishes first the finished task is returned;
// when the budget elapses first the task is returned as running and the
// scan continues unattended, discoverable later via GetStatus and
// GetResult. At the concurrency ceiling the submission is rejected
// outright with model.ErrTooManyTasks and no task is kept; the same
// holds when the admitted task cannot be marked running.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (model.Task, error) {
	if err := req.validate(); err != nil {
		return model.Task{}, err
	}

	t := model.Task{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Target:    req.Target,
		Command:   req.Command,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return model.Task{}, err
	}

	started := make(chan struct{})
	done := make(chan outcome, 1)

	// Execution must outlive the submitting caller.
	bgCtx := context.WithoutCancel(ctx)
	admitted := s.group.TryGo(func() error {
		s.execute(bgCtx, t, started, done)
		return nil
	})
	if !admitted {
		if err := s.store.Delete(ctx, t.ID); err != nil {
			slog.WarnContext(ctx, "discarding rejected task failed", "task_id", t.ID, "error", err)
		}
		return model.Task{}, fmt.Errorf("%w: ceiling of %d reached", model.ErrTooManyTasks, s.ceiling)
	}

	select {
	case <-started:
	case out := <-done:
		// execution tripped before the running transition
		return out.task, out.err
	}

	timer := time.NewTimer(req.Wait)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.task, out.err
	case <-timer.C:
		return s.store.Get(ctx, t.ID)
	}
}

// GetStatus returns the task's current status straight from the store.
func (s *Scheduler) GetStatus(ctx context.Context, id string) (model.Status, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// GetResult returns the full task record. A task which has not finished
// yet is returned as-is, without result or error; callers check Status.
func (s *Scheduler) GetResult(ctx context.Context, id string) (model.Task, error) {
	return s.store.Get(ctx, id)
}

// Running reports how many scans are currently executing.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Wait blocks until all background executions have finished. Used on
// daemon shutdown; submissions arriving while waiting may still be
// admitted by the caller's own serialization.
func (s *Scheduler) Wait() {
	_ = s.group.Wait()
}

// outcome of one execution, delivered to a still-waiting submitter.
type outcome struct {
	task model.Task
	err  error
}

// execute drives one admitted task to its terminal state. Every failure
// past the running transition is captured and stored: nothing may
// escape unobserved, since no caller is necessarily waiting anymore.
func (s *Scheduler) execute(ctx context.Context, t model.Task, started chan<- struct{}, done chan<- outcome) {
	s.running.Add(1)
	defer s.running.Add(-1)

	ctx = log.ContextAttrs(ctx,
		slog.String("task_id", t.ID),
		slog.String("target", t.Target),
	)

	finish := func() {
		fin, err := s.store.Get(ctx, t.ID)
		if err != nil {
			slog.ErrorContext(ctx, "reading finished task failed", "error", err)
			fin = t
		}
		done <- outcome{task: fin}
		close(done)
	}

	if err := s.store.Transition(ctx, t.ID, model.StatusRunning, store.TransitionPayload{}); err != nil {
		// the task never started; a pending row has no goroutine to
		// finish it, so it is discarded rather than stranded
		slog.ErrorContext(ctx, "running transition failed", "error", err)
		if derr := s.store.Delete(ctx, t.ID); derr != nil && !errors.Is(derr, model.ErrNotFound) {
			slog.WarnContext(ctx, "discarding unstarted task failed", "error", derr)
		}
		done <- outcome{err: fmt.Errorf("starting task %s: %w", t.ID, err)}
		close(done)
		return
	}
	close(started)
	slog.DebugContext(ctx, "scan started", "command", t.Command)

	payload, failed := s.run(ctx, t)
	to := model.StatusCompleted
	if failed {
		to = model.StatusFailed
		slog.WarnContext(ctx, "scan failed", "cause", payload.Error)
	}
	if err := s.store.Transition(ctx, t.ID, to, payload); err != nil {
		// a concurrent transition already landed; the first one wins
		slog.ErrorContext(ctx, "terminal transition rejected", "to", to, "error", err)
	}
	finish()
}

// run executes the external tool and converts its outcome into a
// terminal payload. Reports failed=true for spawn errors, timeouts,
// execution errors and (for structured profiles) unparseable output. A
// non-zero exit with parseable output still yields a result: some scan
// profiles exit non-zero on partial results.
func (s *Scheduler) run(ctx context.Context, t model.Task) (store.TransitionPayload, bool) {
	r := runner.New()
	cmd := runner.Command{
		Path:    t.Command[0],
		Args:    t.Command[1:],
		Timeout: s.scanTimeout,
	}
	stderrFunc := func(ctx context.Context, line string) {
		slog.DebugContext(ctx, "scan stderr", "line", line)
	}

	if err := r.Start(ctx, cmd, stderrFunc); err != nil {
		// binary missing or unexecutable: misconfiguration, not a bad target
		slog.ErrorContext(ctx, "scan binary cannot be spawned", "path", cmd.Path, "error", err)
		return store.TransitionPayload{Error: "spawning scan: " + err.Error()}, true
	}

	res := <-r.Done()
	switch {
	case res.TimedOut:
		return store.TransitionPayload{
			Error: fmt.Sprintf("%s after %s", model.ErrTimedOut, s.scanTimeout),
		}, true
	case res.Err != nil && !isExitError(res.Err):
		return store.TransitionPayload{Error: "scan execution: " + res.Err.Error()}, true
	}

	result, err := nmap.Parse(res.Stdout.Bytes())
	if err != nil {
		if t.Type == model.TaskTypeCustom {
			// custom commands may legitimately emit no structured report
			return store.TransitionPayload{Result: &model.ScanResult{
				Target:    t.Target,
				ScanTime:  res.Stopped.Sub(res.Started).Round(10 * time.Millisecond).String(),
				RawOutput: res.Stdout.String(),
			}}, false
		}
		return store.TransitionPayload{Error: err.Error()}, true
	}
	if t.Target != "" {
		result.Target = t.Target
	}
	return store.TransitionPayload{Result: &result}, false
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// Package runner supervises a single external scan process: spawn with
// an argument vector, capture stdout, enforce a hard deadline, report
// exit state. One Runner drives exactly one execution.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("scan not started")
	ErrInProgress = errors.New("scan in progress")
)

// StderrFunc receives the process stderr line by line.
type StderrFunc func(ctx context.Context, line string)

// Command is the process prototype. Timeout is the hard execution
// ceiling; on expiry the whole process group is killed and the Result
// reports TimedOut instead of partial output.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// Result of one finished execution. Err carries the wait error verbatim
// (an *exec.ExitError on non-zero exit): a non-zero exit code is not a
// runner failure, callers inspect the output to decide.
type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	State    *os.ProcessState
	Stdout   *bytes.Buffer
	TimedOut bool
	Err      error
}

// ExitCode returns the process exit code, -1 when unknown.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

type Runner struct {
	mx         sync.Mutex
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	result     Result
	done       chan Result
	stderrWG   sync.WaitGroup
}

func New() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
		done:   make(chan Result, 1),
	}
}

// Start spawns the process and returns immediately. A Start error means
// the process never ran (binary missing, unexecutable); everything past
// a successful spawn is reported through Done. Spawns a goroutine which
// waits on the command, and one more when stderrFunc is given.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	execCtx := ctx
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		execCtx, r.cancelFunc = context.WithTimeout(ctx, proto.Timeout)
	}

	cmd := exec.CommandContext(execCtx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			r.reset()
			return err
		}
	}
	var buf bytes.Buffer
	r.result.Stdout = &buf
	cmd.Stdout = &buf

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		r.reset()
		return err
	}
	r.cmd = cmd

	if stderr != nil {
		r.stderrWG.Add(1)
		go r.processStderr(execCtx, stderr, stderrFunc)
	}
	go r.wait(execCtx, cmd)
	return nil
}

func (r *Runner) reset() {
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
	r.cmd = nil
}

func (r *Runner) processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	defer r.stderrWG.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd) {
	// Wait closes the stderr pipe once the process exits, so stderr must
	// be fully drained first.
	r.stderrWG.Wait()
	err := cmd.Wait()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.TimedOut = timedOut
	r.result.Err = err
	r.cmd = nil
	r.done <- r.result
	close(r.done)
}

// Done delivers the terminal Result of a started execution, then
// closes. Never fires for a Runner whose Start returned an error.
func (r *Runner) Done() <-chan Result {
	return r.done
}

// LastResult returns the current result snapshot, or one carrying
// ErrNotStarted before the first Start.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

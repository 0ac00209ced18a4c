package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scantaskd/scantaskd/internal/log"
	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/nmap"
	"github.com/scantaskd/scantaskd/internal/server"
	"github.com/scantaskd/scantaskd/internal/store"
	"github.com/scantaskd/scantaskd/internal/task"

	"github.com/spf13/cobra"
)

func init() {
	scanCmd.Flags().String("type", "quick", "scan type: quick, full or custom")
	scanCmd.Flags().String("command", "", "scan command line for --type custom")
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("scantaskd",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	token := config.Auth.Token
	if token == "" {
		token = model.GenerateToken()
		// printed once to stderr, never logged
		fmt.Fprintf(os.Stderr, "generated API token: %s\n", token)
	}

	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.ErrorContext(ctx, "closing task store", "err", err)
		}
	}()

	sched := task.NewScheduler(st, config.Task.MaxConcurrent, config.Scan.Timeout)
	builder := nmap.NewBuilder().WithBinary(config.Scan.NmapPath)

	if config.Cleanup.Enabled {
		janitor, err := task.NewJanitor(st, config.Cleanup.Schedule, config.Cleanup.Retention)
		if err != nil {
			return err
		}
		janitor.Start()
		defer func() {
			if err := janitor.Close(); err != nil {
				slog.ErrorContext(ctx, "stopping cleanup", "err", err)
			}
		}()
	}

	api := server.New(sched, builder, token, config.Task.SyncTimeout)
	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(config.Listen.Host, strconv.Itoa(config.Listen.Port)),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	slog.InfoContext(ctx, "listening", "addr", httpSrv.Addr)

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "http shutdown", "err", err)
		}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	// let background scans land their terminal state
	sched.Wait()
	return nil
}

// doScan runs one scan to completion without the daemon, sharing the
// daemon's store so the task remains inspectable over the API later.
func doScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("scantaskd",
		slog.String("cmd", "scan"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	scanType, _ := cmd.Flags().GetString("type")
	command, _ := cmd.Flags().GetString("command")

	builder := nmap.NewBuilder().WithBinary(config.Scan.NmapPath)
	req := task.SubmitRequest{
		Type: model.TaskType(scanType),
		// outlives the scan so completion always wins the race
		Wait: config.Scan.Timeout + time.Minute,
	}
	switch req.Type {
	case model.TaskTypeQuick, model.TaskTypeFull:
		if len(args) != 1 {
			return fmt.Errorf("%s scan requires a target argument", scanType)
		}
		req.Target = args[0]
		if req.Type == model.TaskTypeQuick {
			req.Command = builder.Quick(req.Target)
		} else {
			req.Command = builder.Full(req.Target)
		}
	case model.TaskTypeCustom:
		if command == "" {
			command = strings.Join(args, " ")
		}
		if command == "" {
			return errors.New("custom scan requires --command or a command argument")
		}
		var err error
		req.Command, err = builder.Custom(command)
		if err != nil {
			return err
		}
		req.Target = nmap.Target(req.Command)
	default:
		return fmt.Errorf("unknown scan type %q", scanType)
	}

	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.ErrorContext(ctx, "closing task store", "err", err)
		}
	}()

	sched := task.NewScheduler(st, 1, config.Scan.Timeout)
	t, err := sched.Submit(ctx, req)
	if err != nil {
		return err
	}
	sched.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return err
	}
	if t.Status == model.StatusFailed {
		return fmt.Errorf("scan failed: %s", t.Error)
	}
	return nil
}

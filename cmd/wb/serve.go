package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/reminder"
	"github.com/zulandar/waybill/internal/server"
	"github.com/zulandar/waybill/internal/session"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Starts the HTTP API for login codes, message batches, media uploads and ledger records, plus the reminder schedule when one is configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configFlag(cmd), port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, log, gormDB, err := connectFromConfig(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	a, err := newApp(cfg, log, gormDB, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if cfg.Reminder.Schedule != "" {
		sched, err := newReminderSchedule(a)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	defer func() {
		a.teardown.Cancel()
		a.lifecycle.Reset(context.Background())
	}()

	return server.Start(ctx, server.Options{
		Port:             cfg.Server.Port,
		Env:              cfg.Server.Env,
		Session:          a.lifecycle,
		Dispatcher:       a.engine,
		History:          a.history,
		Media:            a.media,
		Records:          a.records,
		CodePollAttempts: cfg.Session.CodePollAttempts,
		CodePollInterval: cfg.Session.CodePollInterval(),
		MaxUploadBytes:   cfg.Media.MaxBytes(),
		Logger:           log,
		Out:              cmd.OutOrStdout(),
	})
}

// newReminderSchedule builds the cron-driven reminder run.
func newReminderSchedule(a *app) (*reminder.Scheduler, error) {
	runner, err := reminder.NewRunner(reminder.RunnerOptions{
		Session:      a.lifecycle,
		Sender:       a.engine,
		Sink:         logCodeSink(a.log),
		Currency:     a.cfg.Reminder.Currency,
		InitTimeout:  a.cfg.Session.InitTimeout(),
		PollInterval: a.cfg.Session.CodePollInterval(),
		Logger:       a.log,
	})
	if err != nil {
		return nil, err
	}
	return reminder.NewScheduler(a.cfg.Reminder.Schedule, a.cfg.Reminder.Source, runner, a.log)
}

// logCodeSink tells operators a scheduled run needs a scan. The challenge
// itself stays out of the logs; /auth/code serves it.
func logCodeSink(log zerolog.Logger) reminder.CodeSink {
	return func(p session.PendingCode) {
		log.Warn().Time("issued_at", p.IssuedAt).Msg("reminder run is waiting for a scan; open /auth/code")
	}
}

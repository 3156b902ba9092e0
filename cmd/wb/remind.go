package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/reminder"
	"github.com/zulandar/waybill/internal/report"
	"github.com/zulandar/waybill/internal/session"
	"golang.org/x/term"
)

func newRemindCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "remind <payments.xlsx|payments.json>",
		Short: "Send payment reminders from a payments file",
		Long: `Reads overdue payments from a workbook or JSON export and sends each
customer a reminder. If the chat account is not linked yet, a login code
is printed to scan. The session is logged out when the run finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemind(cmd, configFlag(cmd), args[0], dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the reminders without sending")
	return cmd
}

func runRemind(cmd *cobra.Command, configPath, path string, dryRun bool) error {
	out := cmd.OutOrStdout()

	payments, err := reminder.LoadPayments(path)
	if err != nil {
		return err
	}

	if dryRun {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		for _, r := range reminder.Recipients(payments, cfg.Reminder.Currency) {
			fmt.Fprintf(out, "--- +%s %s\n%s\n\n", r.CountryCode, r.Number, r.Message)
		}
		fmt.Fprintf(out, "%d reminders (dry run, nothing sent)\n", len(payments))
		return nil
	}

	cfg, log, gormDB, err := connectFromConfig(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a, err := newApp(cfg, log, gormDB, nil)
	if err != nil {
		return err
	}

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	runner, err := reminder.NewRunner(reminder.RunnerOptions{
		Session:      a.lifecycle,
		Sender:       a.engine,
		Sink:         func(p session.PendingCode) { printCode(out, p, tty) },
		Currency:     cfg.Reminder.Currency,
		InitTimeout:  cfg.Session.InitTimeout(),
		PollInterval: cfg.Session.CodePollInterval(),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	summary, runErr := runner.Run(ctx, payments)

	// The process exits next, so the delayed teardown would never fire.
	a.teardown.Cancel()
	a.teardown.Run(ctx)

	if summary != nil {
		fmt.Fprintln(out, report.Format(*summary))
	}
	return runErr
}

// printCode shows a login code. Terminals get the block-character
// rendering; anything else gets the PNG data URL.
func printCode(out io.Writer, p session.PendingCode, tty bool) {
	if tty && p.Artifact.Terminal != "" {
		fmt.Fprintf(out, "Scan this code with the chat app (issued %s):\n\n%s\n", p.IssuedAt.Format("15:04:05"), p.Artifact.Terminal)
		return
	}
	fmt.Fprintf(out, "Login code issued %s; open this URL to scan it:\n%s\n", p.IssuedAt.Format("15:04:05"), p.Artifact.ImageURL)
}

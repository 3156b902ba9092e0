package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/session"
	"github.com/zulandar/waybill/internal/sheet"
)

// Kind is recorded on reminder batches.
const Kind = "reminder"

// Session is the part of the lifecycle a reminder run drives.
type Session interface {
	EnsureReady(ctx context.Context) (session.State, error)
	AwaitReady(ctx context.Context, interval time.Duration, onCode func(session.PendingCode)) error
	Reset(ctx context.Context)
}

// Sender dispatches a batch.
type Sender interface {
	Send(ctx context.Context, recipients []dispatch.Recipient, opts dispatch.Options) (*dispatch.Summary, error)
}

// CodeSink receives every login code issued while a run waits for the
// session. The CLI prints it to the terminal; the server logs it.
type CodeSink func(session.PendingCode)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Session      Session
	Sender       Sender
	Sink         CodeSink
	Currency     string
	InitTimeout  time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Runner brings the session up and sends one reminder batch.
type Runner struct {
	sess         Session
	sender       Sender
	sink         CodeSink
	currency     string
	initTimeout  time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewRunner creates a Runner. Session and Sender are required.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Session == nil || opts.Sender == nil {
		return nil, fmt.Errorf("reminder: session and sender are required")
	}
	r := &Runner{
		sess:         opts.Session,
		sender:       opts.Sender,
		sink:         opts.Sink,
		currency:     opts.Currency,
		initTimeout:  opts.InitTimeout,
		pollInterval: opts.PollInterval,
		log:          logging.Component(opts.Logger, "reminder"),
	}
	if r.initTimeout <= 0 {
		r.initTimeout = session.DefaultInitTimeout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = time.Second
	}
	return r, nil
}

// Run sends reminders for payments. A run that finds initialization already
// under way waits for it instead of failing. If the session does not become
// ready within the init timeout it is reset and the run fails.
func (r *Runner) Run(ctx context.Context, payments []sheet.Payment) (*dispatch.Summary, error) {
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: no payments", dispatch.ErrInvalidBatch)
	}

	state, err := r.sess.EnsureReady(ctx)
	switch {
	case errors.Is(err, session.ErrAlreadyInitializing):
		r.log.Info().Msg("session initialization in progress, waiting")
	case err != nil:
		return nil, fmt.Errorf("reminder: start session: %w", err)
	default:
		r.log.Debug().Str("state", state.String()).Msg("session started")
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.initTimeout)
	defer cancel()
	err = r.sess.AwaitReady(waitCtx, r.pollInterval, func(p session.PendingCode) {
		r.log.Info().Time("issued_at", p.IssuedAt).Msg("scan required")
		if r.sink != nil {
			r.sink(p)
		}
	})
	if err != nil {
		r.sess.Reset(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("reminder: wait for session: %w", err)
	}

	recipients := Recipients(payments, r.currency)
	r.log.Info().Int("payments", len(recipients)).Msg("sending reminders")
	return r.sender.Send(ctx, recipients, dispatch.Options{Kind: Kind})
}

package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/sheet"
)

// cronParser uses standard 5-field cron expressions plus @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Batch is what the scheduler invokes on every tick.
type Batch interface {
	Run(ctx context.Context, payments []sheet.Payment) (*dispatch.Summary, error)
}

// Scheduler runs the reminder batch from a payments file on a cron schedule.
// A tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	expr   string
	source string
	batch  Batch
	load   func(path string) ([]sheet.Payment, error)
	log    zerolog.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler validates expr and returns a stopped Scheduler.
func NewScheduler(expr, source string, batch Batch, log zerolog.Logger) (*Scheduler, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("reminder: parse schedule %q: %w", expr, err)
	}
	if source == "" {
		return nil, fmt.Errorf("reminder: schedule set without a source file")
	}
	if batch == nil {
		return nil, fmt.Errorf("reminder: batch runner is required")
	}
	return &Scheduler{
		expr:   expr,
		source: source,
		batch:  batch,
		load:   LoadPayments,
		log:    logging.Component(log, "reminder"),
	}, nil
}

// Next returns the first fire time after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	sched, err := cronParser.Parse(s.expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now)
}

// Start begins firing. Runs inherit ctx; Stop cancels them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	s.c.AddFunc(s.expr, func() { s.Tick(runCtx) })
	s.c.Start()
	s.log.Info().Str("schedule", s.expr).Time("next", s.Next(time.Now())).Msg("reminder schedule started")
}

// Stop halts the schedule and waits for a running batch to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.cancel()
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info().Msg("reminder schedule stopped")
}

// Tick loads the source and runs one batch. Failures are logged.
func (s *Scheduler) Tick(ctx context.Context) {
	payments, err := s.load(s.source)
	if err != nil {
		s.log.Error().Err(err).Str("source", s.source).Msg("load payments")
		return
	}
	sum, err := s.batch.Run(ctx, payments)
	if err != nil {
		s.log.Error().Err(err).Msg("reminder batch failed")
		return
	}
	s.log.Info().
		Str("batch", sum.BatchID).
		Int("successful", sum.Successful).
		Int("failed", sum.Failed).
		Int("filtered", sum.Filtered).
		Msg("reminder batch finished")
}

// cronLogger adapts zerolog to cron's logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Package dispatch sends a batch of personalized messages over a ready
// session, one recipient at a time, and aggregates per-recipient outcomes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/metrics"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/session"
	"golang.org/x/time/rate"
)

// Per-recipient error codes.
const (
	CodeInvalidDestination = "InvalidDestination"
	CodeNotRegistered      = "NotRegistered"
	CodeSendFailed         = "SendFailed"
	CodeMissingFields      = "MissingFields"
)

var (
	ErrInvalidBatch = errors.New("dispatch: invalid batch")
	ErrNotReady     = errors.New("dispatch: session not ready")
	ErrBusy         = errors.New("dispatch: another batch is in progress")
	ErrSessionLost  = errors.New("dispatch: session lost during batch")
)

// Session is the readiness-gated view of the lifecycle the engine needs.
type Session interface {
	Ready() (session.Channel, bool)
	Reset(ctx context.Context)
}

// Teardown is armed after every successful batch.
type Teardown interface {
	Schedule(delay time.Duration)
	Cancel() bool
}

// Recorder persists finished batches.
type Recorder interface {
	Record(ctx context.Context, s Summary) error
}

// Reporter announces finished batches to operators.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// Result is one recipient's outcome. Index is the recipient's position in
// the submitted batch.
type Result struct {
	Index       int    `json:"index"`
	Name        string `json:"name,omitempty"`
	Number      string `json:"number"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Detail      string `json:"detail,omitempty"`
	MediaSent   int    `json:"mediaSent,omitempty"`
	MediaFailed int    `json:"mediaFailed,omitempty"`
}

// Summary aggregates one batch. Attempted excludes opted-out recipients, so
// Successful+Failed == Attempted and Attempted+Filtered == Total.
type Summary struct {
	BatchID     string    `json:"batchId"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Total       int       `json:"total"`
	Attempted   int       `json:"messagesSent"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Filtered    int       `json:"messagesFiltered"`
	MediaSent   int       `json:"mediaSent"`
	MediaFailed int       `json:"mediaFailed"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Results     []Result  `json:"-"`
}

// Options control a single batch.
type Options struct {
	Kind       string   // "text", "media", "product" or "reminder"; recorded with the batch
	Template   string   // optional {name}/{category}/{price}/{minQuantity} template
	Media      []string // attachment paths sent after each recipient's text
	SkipPacing bool     // send back to back without the randomized delay
}

// Config tunes the engine.
type Config struct {
	PacingMin         time.Duration
	PacingMax         time.Duration
	MediaDelay        time.Duration
	MediaRate         float64 // media sends per second across the batch; 0 is unlimited
	CheckRegistration bool
	FilterOptOut      bool
	TeardownDelay     time.Duration
	Currency          string
}

// ConfigFrom maps the dispatch section of the file config.
func ConfigFrom(d config.DispatchConfig, currency string) Config {
	minPace, maxPace := d.PacingBounds()
	return Config{
		PacingMin:         minPace,
		PacingMax:         maxPace,
		MediaDelay:        d.MediaDelay(),
		MediaRate:         d.MediaRatePerSec,
		CheckRegistration: d.CheckRegistration == nil || *d.CheckRegistration,
		FilterOptOut:      d.FilterOptOut == nil || *d.FilterOptOut,
		TeardownDelay:     d.TeardownDelay(),
		Currency:          currency,
	}
}

// Deps are the engine's collaborators. Only Session is required.
type Deps struct {
	Session   Session
	Teardown  Teardown
	LoadMedia func(path string) (session.Media, error)
	Recorder  Recorder
	Reporters []Reporter
	Logger    zerolog.Logger
}

// Engine sends batches. It runs one batch at a time.
type Engine struct {
	cfg       Config
	sess      Session
	teardown  Teardown
	loadMedia func(string) (session.Media, error)
	recorder  Recorder
	reporters []Reporter
	log       zerolog.Logger
	limiter   *rate.Limiter

	running atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	pace  func(lo, hi time.Duration) time.Duration
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Session == nil {
		return nil, fmt.Errorf("dispatch: session is required")
	}
	if cfg.PacingMax < cfg.PacingMin {
		return nil, fmt.Errorf("dispatch: pacing max %v is below min %v", cfg.PacingMax, cfg.PacingMin)
	}
	if cfg.Currency == "" {
		cfg.Currency = "NPR"
	}
	limit := rate.Inf
	if cfg.MediaRate > 0 {
		limit = rate.Limit(cfg.MediaRate)
	}
	e := &Engine{
		cfg:       cfg,
		sess:      deps.Session,
		teardown:  deps.Teardown,
		loadMedia: deps.LoadMedia,
		recorder:  deps.Recorder,
		reporters: deps.Reporters,
		log:       logging.Component(deps.Logger, "dispatch"),
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
		sleep:     sleepCtx,
		pace:      uniform,
	}
	if e.loadMedia == nil {
		e.loadMedia = media.LoadFile
	}
	return e, nil
}

// Send dispatches recipients sequentially over the ready session. Individual
// failures are recorded in the summary and never abort the batch. A non-nil
// error means the batch itself could not run or was cut short; in the latter
// case the session is reset and the partial summary is returned too.
func (e *Engine) Send(ctx context.Context, recipients []Recipient, opts Options) (*Summary, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidBatch)
	}
	if _, ok := e.sess.Ready(); !ok {
		return nil, ErrNotReady
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)

	// A teardown that fired before Cancel has already taken the session out
	// of Ready, so readiness is checked again once it is disarmed.
	if e.teardown != nil {
		e.teardown.Cancel()
	}
	ch, ok := e.sess.Ready()
	if !ok {
		return nil, ErrNotReady
	}
	if opts.Kind == "" {
		opts.Kind = "text"
	}

	sum := &Summary{
		BatchID:   uuid.NewString(),
		Kind:      opts.Kind,
		Total:     len(recipients),
		StartedAt: e.now(),
	}
	log := e.log.With().Str("batch", sum.BatchID).Logger()
	log.Info().Int("recipients", len(recipients)).Int("media", len(opts.Media)).Msg("batch started")

	attachments := e.prepareMedia(log, opts.Media)
	runErr := e.run(ctx, log, ch, recipients, opts, attachments, sum)
	sum.FinishedAt = e.now()

	if runErr != nil {
		sum.Outcome = models.BatchFailed
		sum.Error = runErr.Error()
		metrics.Batch(models.BatchFailed)
		log.Error().Err(runErr).Int("sent", sum.Successful).Msg("batch aborted, resetting session")
		e.sess.Reset(context.WithoutCancel(ctx))
		e.record(ctx, log, *sum)
		return sum, runErr
	}

	sum.Outcome = models.BatchCompleted
	metrics.Batch(models.BatchCompleted)
	log.Info().
		Int("total", sum.Total).
		Int("successful", sum.Successful).
		Int("failed", sum.Failed).
		Int("filtered", sum.Filtered).
		Msg("batch finished")
	e.record(ctx, log, *sum)
	e.report(ctx, log, *sum)
	if e.teardown != nil {
		e.teardown.Schedule(e.cfg.TeardownDelay)
	}
	return sum, nil
}

// run walks the batch. A panic from the channel is turned into a batch error.
func (e *Engine) run(ctx context.Context, log zerolog.Logger, ch session.Channel, recipients []Recipient, opts Options, attachments []session.Media, sum *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: channel panic: %v", r)
		}
	}()

	contacted := false
	for i, r := range recipients {
		if e.cfg.FilterOptOut && OptedOut(r.Message) {
			sum.Filtered++
			metrics.Result(metrics.ResultFiltered)
			log.Debug().Int("index", i).Str("name", r.Name).Msg("recipient opted out")
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}

		res := Result{Index: i, Name: r.Name, Number: digits(r.CountryCode) + digits(r.Number)}
		addr, addrErr := Address(r.CountryCode, r.Number)
		if addrErr == nil && contacted && !opts.SkipPacing {
			d := e.pace(e.cfg.PacingMin, e.cfg.PacingMax)
			log.Debug().Dur("delay", d).Int("index", i).Msg("pacing")
			if err := e.sleep(ctx, d); err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}
		}
		if addrErr != nil {
			res.fail(CodeInvalidDestination, addrErr)
		} else {
			// The session may have been reset or torn down while pacing.
			if cur, ok := e.sess.Ready(); !ok || cur != ch {
				return ErrSessionLost
			}
			contacted = true
			e.sendOne(ctx, log, ch, addr, r, opts, attachments, &res)
		}

		sum.Attempted++
		sum.MediaSent += res.MediaSent
		sum.MediaFailed += res.MediaFailed
		if res.Success {
			sum.Successful++
			metrics.Result(metrics.ResultSent)
		} else {
			sum.Failed++
			metrics.Result(res.Error)
			log.Warn().Int("index", i).Str("number", res.Number).Str("error", res.Error).Str("detail", res.Detail).Msg("recipient failed")
		}
		sum.Results = append(sum.Results, res)
	}
	return nil
}

func (e *Engine) sendOne(ctx context.Context, log zerolog.Logger, ch session.Channel, addr string, r Recipient, opts Options, attachments []session.Media, res *Result) {
	text, err := compose(r, opts.Template, e.cfg.Currency)
	if err != nil {
		res.fail(CodeMissingFields, err)
		return
	}
	if e.cfg.CheckRegistration {
		registered, err := ch.IsRegistered(ctx, addr)
		if err != nil {
			res.fail(CodeSendFailed, fmt.Errorf("registration check: %w", err))
			return
		}
		if !registered {
			res.fail(CodeNotRegistered, fmt.Errorf("%s is not registered", addr))
			return
		}
	}
	if err := ch.SendText(ctx, addr, text); err != nil {
		res.fail(CodeSendFailed, err)
		return
	}
	res.Success = true

	for j, m := range attachments {
		if j > 0 && e.cfg.MediaDelay > 0 {
			if err := e.sleep(ctx, e.cfg.MediaDelay); err != nil {
				res.MediaFailed += len(attachments) - j
				return
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			res.MediaFailed += len(attachments) - j
			return
		}
		if err := ch.SendMedia(ctx, addr, m); err != nil {
			res.MediaFailed++
			log.Warn().Err(err).Str("file", m.Filename).Str("to", addr).Msg("media send failed")
			continue
		}
		res.MediaSent++
	}
}

// prepareMedia loads every attachment once per batch. Files that cannot be
// read are logged and left out.
func (e *Engine) prepareMedia(log zerolog.Logger, paths []string) []session.Media {
	var out []session.Media
	for _, p := range paths {
		m, err := e.loadMedia(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("skipping unreadable attachment")
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) record(ctx context.Context, log zerolog.Logger, s Summary) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), s); err != nil {
		log.Warn().Err(err).Msg("could not record batch")
	}
}

func (e *Engine) report(ctx context.Context, log zerolog.Logger, s Summary) {
	for _, r := range e.reporters {
		if err := r.Report(context.WithoutCancel(ctx), s); err != nil {
			log.Warn().Err(err).Msg("batch report failed")
		}
	}
}

func (r *Result) fail(code string, err error) {
	r.Success = false
	r.Error = code
	if err != nil {
		r.Detail = err.Error()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// uniform picks a delay in [lo, hi].
func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

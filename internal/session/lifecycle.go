package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/authcode"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/metrics"
)

// Defaults for the lifecycle policy.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultInitTimeout = 240 * time.Second

	busyRetryDelay = 25 * time.Millisecond
)

var (
	ErrAlreadyInitializing         = errors.New("session: already initializing")
	ErrCodeTimeout                 = errors.New("session: timed out waiting for authentication code")
	ErrAuthFailureExceededRetries  = errors.New("session: authentication failed after retries")
	ErrDisconnectedExceededRetries = errors.New("session: disconnected after retries")
	ErrInitAborted                 = errors.New("session: initialization aborted by reset")
	ErrReadyTimeout                = errors.New("session: timed out waiting for readiness")
)

// PendingCode is the most recent login challenge awaiting a scan.
type PendingCode struct {
	Artifact authcode.Artifact
	IssuedAt time.Time
}

// Status is a point-in-time view of the lifecycle.
type Status struct {
	State        State     `json:"state"`
	Ready        bool      `json:"ready"`
	Initializing bool      `json:"initializing"`
	HasHandle    bool      `json:"has_handle"`
	Retries      int       `json:"retries"`
	LastError    string    `json:"last_error,omitempty"`
	CodeIssuedAt time.Time `json:"code_issued_at,omitempty"`
}

// Options configures a Lifecycle.
type Options struct {
	Factory     Factory
	Renderer    authcode.Renderer // defaults to a QR renderer
	Logger      zerolog.Logger
	MaxRetries  int           // 0 means DefaultMaxRetries; negative disables retries
	RetryDelay  time.Duration // delay before an automatic reconnect
	InitTimeout time.Duration // bound on a single Initialize call
	Now         func() time.Time
}

// Lifecycle owns the process-wide session. Construct one with New and share
// it by reference; every caller observes the same state.
type Lifecycle struct {
	factory     Factory
	renderer    authcode.Renderer
	log         zerolog.Logger
	maxRetries  int
	retryDelay  time.Duration
	initTimeout time.Duration
	now         func() time.Time

	mu           sync.Mutex
	state        State
	handle       Channel
	gen          uint64 // bumped on every new handle and every reset
	initializing bool
	retries      int
	lastErr      error
	pending      *PendingCode
	codeSeq      uint64
	retryTimer   *time.Timer
}

// New creates an idle Lifecycle.
func New(opts Options) (*Lifecycle, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("session: channel factory is required")
	}
	l := &Lifecycle{
		factory:     opts.Factory,
		renderer:    opts.Renderer,
		log:         logging.Component(opts.Logger, "session"),
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		initTimeout: opts.InitTimeout,
		now:         opts.Now,
	}
	if l.renderer == nil {
		l.renderer = authcode.NewQRRenderer()
	}
	if l.maxRetries == 0 {
		l.maxRetries = DefaultMaxRetries
	}
	if l.retryDelay < 0 {
		l.retryDelay = 0
	} else if l.retryDelay == 0 {
		l.retryDelay = DefaultRetryDelay
	}
	if l.initTimeout <= 0 {
		l.initTimeout = DefaultInitTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	metrics.SetSessionState(Idle.String())
	return l, nil
}

// EnsureReady returns immediately when the session is Ready. From Idle,
// Disconnected or Failed it acquires a fresh channel and initializes it,
// returning the state reached once Initialize completes (Ready, or
// AwaitingCode when a scan is required). While another initialization is in
// flight, or a code is awaiting a scan, it fails with ErrAlreadyInitializing
// without touching the channel.
func (l *Lifecycle) EnsureReady(ctx context.Context) (State, error) {
	return l.ensureReady(ctx, false)
}

func (l *Lifecycle) ensureReady(ctx context.Context, automatic bool) (State, error) {
	l.mu.Lock()
	if l.state == Ready && l.handle != nil {
		l.mu.Unlock()
		return Ready, nil
	}
	if l.initializing || l.state == Initializing || l.state == AwaitingCode {
		st := l.state
		l.mu.Unlock()
		return st, ErrAlreadyInitializing
	}
	if !automatic {
		l.retries = 0
		l.stopRetryLocked()
	}
	// Any stale handle from a Failed/Disconnected cycle is released first.
	stale := l.resetLocked()
	l.setStateLocked(Initializing)
	l.initializing = true
	l.lastErr = nil
	gen := l.gen
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.initializing = false
		l.mu.Unlock()
	}()
	l.release(ctx, stale)

	l.log.Info().Bool("automatic", automatic).Msg("initializing channel")

	ch, err := l.acquire(gen)
	if err != nil {
		l.abandon(ctx, gen, automatic)
		return Idle, fmt.Errorf("session: acquire channel: %w", err)
	}

	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		l.release(ctx, ch)
		return Idle, ErrInitAborted
	}
	l.handle = ch
	l.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, l.initTimeout)
	defer cancel()
	if err := safeInitialize(initCtx, ch); err != nil {
		l.log.Error().Err(err).Msg("channel initialization failed")
		l.abandon(ctx, gen, automatic)
		return Idle, fmt.Errorf("session: initialize: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		return l.state, ErrInitAborted
	}
	return l.state, nil
}

// acquire calls the factory, converting a panic into an error.
func (l *Lifecycle) acquire(gen uint64) (ch Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	return l.factory(func(ev Event) { l.handleEvent(gen, ev) })
}

func safeInitialize(ctx context.Context, ch Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panic: %v", r)
		}
	}()
	return ch.Initialize(ctx)
}

// abandon tears down a half-initialized generation. Automatic attempts feed
// back into the retry budget.
func (l *Lifecycle) abandon(ctx context.Context, gen uint64, automatic bool) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return
	}
	h := l.resetLocked()
	if automatic {
		l.scheduleRetryLocked(ErrDisconnectedExceededRetries, "reconnect_failed")
	}
	l.mu.Unlock()
	l.release(ctx, h)
}

// handleEvent is the single observer for every channel event. Events from a
// generation that has since been reset are dropped.
func (l *Lifecycle) handleEvent(gen uint64, ev Event) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		l.log.Debug().Str("event", ev.Kind.String()).Msg("dropping event from stale channel")
		return
	}
	from := l.state
	to, ok := next(from, ev.Kind)
	if !ok {
		l.mu.Unlock()
		l.log.Debug().Str("event", ev.Kind.String()).Str("state", from.String()).Msg("ignoring event")
		return
	}
	l.setStateLocked(to)

	switch ev.Kind {
	case EventCode:
		l.codeSeq++
		seq := l.codeSeq
		l.mu.Unlock()
		l.issueCode(gen, seq, ev.Payload)

	case EventReady:
		l.pending = nil
		l.retries = 0
		l.lastErr = nil
		l.mu.Unlock()
		l.log.Info().Str("from", from.String()).Msg("channel ready")

	case EventAuthFailure:
		l.log.Warn().Str("reason", ev.Reason).Msg("authentication failed")
		h := l.resetLocked()
		l.scheduleRetryLocked(ErrAuthFailureExceededRetries, "auth_failure")
		l.mu.Unlock()
		l.release(context.Background(), h)

	case EventDisconnected:
		l.log.Warn().Str("reason", ev.Reason).Str("from", from.String()).Msg("channel disconnected")
		h := l.resetLocked()
		l.scheduleRetryLocked(ErrDisconnectedExceededRetries, "disconnected")
		l.mu.Unlock()
		l.release(context.Background(), h)

	default:
		l.mu.Unlock()
	}
}

// issueCode renders payload outside the lock and stores it only if the
// session is still waiting on this exact code.
func (l *Lifecycle) issueCode(gen, seq uint64, payload string) {
	art, err := l.renderer.Render(payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.codeSeq != seq || l.state != AwaitingCode {
		return
	}
	if err != nil {
		l.pending = nil
		l.log.Warn().Err(err).Msg("could not render authentication code")
		return
	}
	l.pending = &PendingCode{Artifact: art, IssuedAt: l.now()}
	metrics.CodeIssued()
	l.log.Info().Msg("authentication code issued")
}

// scheduleRetryLocked arms a delayed reconnect, or records exhaustion once
// the retry budget is spent. Callers hold mu and have already reset.
func (l *Lifecycle) scheduleRetryLocked(exhausted error, cause string) {
	if l.maxRetries < 0 || l.retries >= l.maxRetries {
		l.lastErr = exhausted
		l.log.Error().Int("retries", l.retries).Err(exhausted).Msg("giving up on automatic reconnect")
		return
	}
	l.retries++
	l.lastErr = nil
	gen, attempt := l.gen, l.retries
	metrics.Retry(cause)
	l.log.Info().Int("attempt", attempt).Dur("delay", l.retryDelay).Str("cause", cause).Msg("scheduling reconnect")
	l.retryTimer = time.AfterFunc(l.retryDelay, func() { l.retry(gen, attempt) })
}

func (l *Lifecycle) retry(gen uint64, attempt int) {
	l.mu.Lock()
	if l.gen != gen || l.state != Idle {
		l.mu.Unlock()
		return
	}
	if l.initializing {
		// The aborted attempt has not finished unwinding yet.
		l.retryTimer = time.AfterFunc(busyRetryDelay, func() { l.retry(gen, attempt) })
		l.mu.Unlock()
		return
	}
	l.retryTimer = nil
	l.mu.Unlock()

	l.log.Info().Int("attempt", attempt).Msg("reconnecting")
	if _, err := l.ensureReady(context.Background(), true); err != nil && !errors.Is(err, ErrAlreadyInitializing) {
		l.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}
}

// Reset releases the channel, clears any pending code and returns the session
// to Idle. It is safe to call from any state, any number of times. Failures
// while releasing the channel are logged and otherwise ignored.
func (l *Lifecycle) Reset(ctx context.Context) {
	l.mu.Lock()
	h := l.resetLocked()
	l.stopRetryLocked()
	l.retries = 0
	l.lastErr = nil
	l.mu.Unlock()
	l.release(ctx, h)
	l.log.Info().Msg("session reset")
}

// Detach takes the channel out of a Ready session and returns the session
// to Idle without destroying the channel, so the caller can log the device
// out first. The caller owns the returned channel and must Destroy it. It
// reports false, leaving the session untouched, unless the session is Ready.
func (l *Lifecycle) Detach() (Channel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Ready || l.handle == nil {
		return nil, false
	}
	h := l.resetLocked()
	l.stopRetryLocked()
	l.retries = 0
	l.lastErr = nil
	l.log.Info().Msg("session detached for teardown")
	return h, true
}

func (l *Lifecycle) resetLocked() Channel {
	h := l.handle
	l.handle = nil
	l.pending = nil
	l.gen++
	l.setStateLocked(Idle)
	return h
}

func (l *Lifecycle) stopRetryLocked() {
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}

func (l *Lifecycle) release(ctx context.Context, h Channel) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("channel destroy panicked")
		}
	}()
	if err := h.Destroy(ctx); err != nil {
		l.log.Warn().Err(err).Msg("error destroying channel")
	}
}

func (l *Lifecycle) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	metrics.SetSessionState(s.String())
}

// WaitForCode polls for a pending code up to maxAttempts times, sleeping
// interval between checks. It returns (nil, nil) if the session becomes Ready
// without needing a scan, and ErrCodeTimeout when no code appears in time;
// the caller should then Reset so the half-initialized session does not leak.
func (l *Lifecycle) WaitForCode(ctx context.Context, maxAttempts int, interval time.Duration) (*PendingCode, error) {
	for attempt := 0; ; attempt++ {
		l.mu.Lock()
		p, st, lastErr := l.pending, l.state, l.lastErr
		l.mu.Unlock()

		switch {
		case p != nil:
			cp := *p
			return &cp, nil
		case st == Ready:
			return nil, nil
		case st == Idle && lastErr != nil:
			return nil, lastErr
		}
		if attempt >= maxAttempts {
			return nil, ErrCodeTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// AwaitReady blocks until the session is Ready, the retry budget is
// exhausted, or ctx ends. onCode is called once for every new code issued
// while waiting.
func (l *Lifecycle) AwaitReady(ctx context.Context, interval time.Duration, onCode func(PendingCode)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	var lastIssued time.Time
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		p, st, lastErr := l.pending, l.state, l.lastErr
		l.mu.Unlock()

		if st == Ready {
			return nil
		}
		if st == Idle && lastErr != nil {
			return lastErr
		}
		if p != nil && p.IssuedAt != lastIssued && onCode != nil {
			lastIssued = p.IssuedAt
			onCode(*p)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrReadyTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ready returns the channel when, and only when, the session is Ready.
func (l *Lifecycle) Ready() (Channel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Ready || l.handle == nil {
		return nil, false
	}
	return l.handle, true
}

// Pending returns a copy of the current pending code, if any.
func (l *Lifecycle) Pending() (PendingCode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return PendingCode{}, false
	}
	return *l.pending, true
}

// Status reports the lifecycle without side effects.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		State:        l.state,
		Ready:        l.state == Ready && l.handle != nil,
		Initializing: l.initializing,
		HasHandle:    l.handle != nil,
		Retries:      l.retries,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	if l.pending != nil {
		s.CodeIssuedAt = l.pending.IssuedAt
	}
	return s
}

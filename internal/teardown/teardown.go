// Package teardown ends the chat session a fixed quiet period after a
// dispatch batch, logging the linked device out before releasing the channel.
package teardown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/session"
)

// DefaultDelay is the quiescence window used when Schedule is given none.
const DefaultDelay = 10 * time.Second

// logoutTimeout bounds the best-effort logout call.
const logoutTimeout = 15 * time.Second

// Session is the part of the lifecycle the scheduler drives. Detach must
// leave the session not Ready before it returns, so no batch can start on a
// channel that is being logged out.
type Session interface {
	Detach() (session.Channel, bool)
	Reset(ctx context.Context)
}

// Scheduler arms at most one pending teardown. A later Schedule replaces an
// unfired earlier one.
type Scheduler struct {
	sess  Session
	delay time.Duration
	log   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// New creates a Scheduler. A non-positive delay means DefaultDelay.
func New(sess Session, delay time.Duration, log zerolog.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		sess:  sess,
		delay: delay,
		log:   logging.Component(log, "teardown"),
	}
}

// Schedule arms a teardown after delay, or after the scheduler's default
// when delay is not positive.
func (s *Scheduler) Schedule(delay time.Duration) {
	if delay <= 0 {
		delay = s.delay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	s.log.Debug().Dur("delay", delay).Msg("teardown scheduled")
}

// Cancel disarms a pending teardown. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	return true
}

// Pending reports whether a teardown is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// fire detaches the session under the scheduler lock, so a Cancel that
// returns before fire takes the lock always wins, and one that returns
// after finds the session already out of Ready.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ch, ok := s.sess.Detach()
	s.mu.Unlock()

	s.finish(context.Background(), ch, ok)
}

// Run performs the teardown immediately: a best-effort logout of the ready
// channel, then its release. A session that is not Ready is reset instead.
func (s *Scheduler) Run(ctx context.Context) {
	ch, ok := s.sess.Detach()
	s.finish(ctx, ch, ok)
}

func (s *Scheduler) finish(ctx context.Context, ch session.Channel, detached bool) {
	if !detached {
		s.sess.Reset(ctx)
		s.log.Info().Msg("session reset")
		return
	}
	lctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	if err := logout(lctx, ch); err != nil {
		s.log.Warn().Err(err).Msg("logout failed, releasing anyway")
	} else {
		s.log.Info().Msg("logged out")
	}
	cancel()
	if err := destroy(ctx, ch); err != nil {
		s.log.Warn().Err(err).Msg("error destroying channel")
	}
	s.log.Info().Msg("session torn down")
}

func logout(ctx context.Context, ch session.Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("logout panic: %v", r)
		}
	}()
	return ch.Logout(ctx)
}

func destroy(ctx context.Context, ch session.Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destroy panic: %v", r)
		}
	}()
	return ch.Destroy(ctx)
}

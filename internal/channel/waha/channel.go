package waha

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/session"
)

const (
	defaultPollInterval = time.Second
	maxPollFailures     = 5
	stopTimeout         = 10 * time.Second
)

// Channel is a session.Channel backed by the bridge. Bridge status changes
// are discovered by polling and turned into lifecycle events.
type Channel struct {
	client   *Client
	observe  func(session.Event)
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	lastCode string
	ready    bool
	failures int
}

// NewFactory returns a session.Factory that creates bridge channels.
func NewFactory(cfg Config, log zerolog.Logger) session.Factory {
	log = logging.Component(log, "waha")
	return func(observe func(session.Event)) (session.Channel, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("waha: base url is required")
		}
		return NewChannel(NewClient(cfg), cfg.PollInterval, observe, log), nil
	}
}

// NewChannel wraps client. Events go to observe.
func NewChannel(client *Client, interval time.Duration, observe func(session.Event), log zerolog.Logger) *Channel {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if observe == nil {
		observe = func(session.Event) {}
	}
	return &Channel{client: client, observe: observe, interval: interval, log: log}
}

// Initialize starts the bridge session and the status poller.
func (c *Channel) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("waha: channel already destroyed")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.client.Start(ctx); err != nil {
		return fmt.Errorf("waha: start session: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		if err := c.client.Stop(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn().Err(err).Msg("could not stop session after destroy")
		}
		return fmt.Errorf("waha: channel destroyed during start")
	}
	c.started = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.poll(pollCtx)
	return nil
}

func (c *Channel) poll(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if !c.pollOnce(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce reads the bridge status once and reports whether polling should
// continue.
func (c *Channel) pollOnce(ctx context.Context) bool {
	status, err := c.client.Status(ctx)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		c.mu.Lock()
		c.failures++
		n := c.failures
		c.mu.Unlock()
		c.log.Debug().Err(err).Int("failures", n).Msg("status poll failed")
		if n >= maxPollFailures {
			c.emit(session.Event{Kind: session.EventDisconnected, Reason: "bridge unreachable: " + err.Error()})
			return false
		}
		return true
	}

	c.mu.Lock()
	c.failures = 0
	wasReady, scanning := c.ready, c.lastCode != ""
	c.mu.Unlock()

	switch status {
	case StatusScanQR:
		code, err := c.client.QR(ctx)
		if err != nil {
			c.log.Debug().Err(err).Msg("qr fetch failed")
			return true
		}
		c.mu.Lock()
		fresh := code != "" && code != c.lastCode
		if fresh {
			c.lastCode = code
		}
		c.mu.Unlock()
		if fresh {
			c.emit(session.Event{Kind: session.EventCode, Payload: code})
		}

	case StatusWorking:
		if !wasReady {
			c.mu.Lock()
			c.ready = true
			c.lastCode = ""
			c.mu.Unlock()
			c.emit(session.Event{Kind: session.EventReady})
		}

	case StatusFailed:
		if scanning && !wasReady {
			c.emit(session.Event{Kind: session.EventAuthFailure, Reason: "bridge reported FAILED during login"})
		} else {
			c.emit(session.Event{Kind: session.EventDisconnected, Reason: "bridge reported FAILED"})
		}
		return false

	case StatusStopped:
		if wasReady || scanning {
			c.emit(session.Event{Kind: session.EventDisconnected, Reason: "bridge session stopped"})
			return false
		}
	}
	return true
}

func (c *Channel) emit(ev session.Event) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.observe(ev)
}

// SendText sends text to a chat address.
func (c *Channel) SendText(ctx context.Context, to, text string) error {
	return c.client.SendText(ctx, to, text)
}

// SendMedia sends an image to a chat address.
func (c *Channel) SendMedia(ctx context.Context, to string, m session.Media) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("waha: media %s is empty", m.Filename)
	}
	return c.client.SendImage(ctx, to, m.MimeType, m.Filename, m.Data)
}

// IsRegistered checks whether the address belongs to an account.
func (c *Channel) IsRegistered(ctx context.Context, to string) (bool, error) {
	return c.client.NumberExists(ctx, strings.TrimSuffix(to, "@c.us"))
}

// Logout unlinks the device.
func (c *Channel) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

// Destroy stops polling and the bridge session. It does not wait for an
// in-flight poll, so it is safe to call from an event callback.
func (c *Channel) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel, started := c.cancel, c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		return nil
	}
	sctx, done := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer done()
	if err := c.client.Stop(sctx); err != nil {
		return fmt.Errorf("waha: stop session: %w", err)
	}
	return nil
}

// Package report posts a one-line summary of every finished batch to the
// operators' Slack and Discord channels.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/dispatch"
)

const maxRetries = 3

// baseBackoff is the first wait after a rate-limited post without a
// server-provided retry hint.
var baseBackoff = time.Second

// Format renders a summary as a single line.
func Format(s dispatch.Summary) string {
	id := s.BatchID
	if len(id) > 8 {
		id = id[:8]
	}
	line := fmt.Sprintf("%s batch %s %s: %s/%s sent, %s failed, %s filtered",
		s.Kind, id, s.Outcome,
		humanize.Comma(int64(s.Successful)), humanize.Comma(int64(s.Attempted)),
		humanize.Comma(int64(s.Failed)), humanize.Comma(int64(s.Filtered)))
	if s.MediaSent > 0 || s.MediaFailed > 0 {
		line += fmt.Sprintf(", %d media (%d failed)", s.MediaSent+s.MediaFailed, s.MediaFailed)
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		line += " in " + s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
	}
	return line
}

// FromConfig builds a reporter for every enabled target.
func FromConfig(cfg config.ReportConfig, log zerolog.Logger) ([]dispatch.Reporter, error) {
	var out []dispatch.Reporter
	if cfg.Slack.Enabled() {
		out = append(out, NewSlack(cfg.Slack, log))
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(cfg.Discord, log)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// retry calls fn until it succeeds, fails with an error that is not a rate
// limit, or maxRetries is reached. limited reports whether err is a rate
// limit and how long the service asked us to wait.
func retry(ctx context.Context, fn func() error, limited func(error) (time.Duration, bool)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := limited(err)
		if !ok || attempt == maxRetries {
			return err
		}
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
)

// slackClient is the one Slack API call we make.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts batch summaries with a bot token.
type Slack struct {
	client  slackClient
	channel string
	log     zerolog.Logger
}

// NewSlack creates a Slack reporter for target.
func NewSlack(target config.ReportTarget, log zerolog.Logger) *Slack {
	return &Slack{
		client:  slackapi.New(target.Token),
		channel: target.Channel,
		log:     logging.Component(log, "report").With().Str("target", "slack").Logger(),
	}
}

// Report implements dispatch.Reporter.
func (s *Slack) Report(ctx context.Context, sum dispatch.Summary) error {
	text := Format(sum)
	err := retry(ctx, func() error {
		_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionText(text, false))
		return err
	}, slackRateLimited)
	if err != nil {
		return fmt.Errorf("slack: post summary: %w", err)
	}
	s.log.Debug().Str("channel", s.channel).Msg("summary posted")
	return nil
}

func slackRateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return 0, false
	}
	return rle.RetryAfter, true
}

package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
)

// discordClient is the REST call we make. No gateway connection is opened.
type discordClient interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts batch summaries with a bot token.
type Discord struct {
	client  discordClient
	channel string
	log     zerolog.Logger
}

// NewDiscord creates a Discord reporter for target.
func NewDiscord(target config.ReportTarget, log zerolog.Logger) (*Discord, error) {
	dg, err := discordgo.New("Bot " + target.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{
		client:  dg,
		channel: target.Channel,
		log:     logging.Component(log, "report").With().Str("target", "discord").Logger(),
	}, nil
}

// Report implements dispatch.Reporter.
func (d *Discord) Report(ctx context.Context, sum dispatch.Summary) error {
	text := Format(sum)
	err := retry(ctx, func() error {
		_, err := d.client.ChannelMessageSend(d.channel, text, discordgo.WithContext(ctx))
		return err
	}, discordRateLimited)
	if err != nil {
		return fmt.Errorf("discord: send summary: %w", err)
	}
	d.log.Debug().Str("channel", d.channel).Msg("summary posted")
	return nil
}

func discordRateLimited(err error) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return 0, false
	}
	return 0, restErr.Response.StatusCode == http.StatusTooManyRequests
}

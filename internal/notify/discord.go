package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clan-tracker/internal/config"
	"clan-tracker/internal/constants"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// DiscordNotifier posts rendered events to the clan's webhook. Clans with no
// resolvable channel go to the fallback notifier.
type DiscordNotifier struct {
	client   *fasthttp.Client
	fallback string
	noRoute  Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDiscordNotifier(cfg *config.Config, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		client: &fasthttp.Client{
			ReadTimeout:         constants.NotifyTimeout,
			WriteTimeout:        constants.NotifyTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		fallback: cfg.DiscordWebhookURL,
		noRoute:  NewLogNotifier(logger),
		logger:   logger.With().Str("component", "discord").Logger(),
		now:      time.Now,
	}
}

// NewNotifier is the process notifier: Discord with log fallback.
func NewNotifier(cfg *config.Config, logger zerolog.Logger) Notifier {
	return NewDiscordNotifier(cfg, logger)
}

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	ref, err := ResolveChannel(n.Clan, n.Event.Kind, d.fallback)
	if errors.Is(err, ErrChannelNotFound) {
		return d.noRoute.Notify(ctx, n)
	}
	if err != nil {
		return err
	}

	msg := Render(n)
	body, err := json.Marshal(webhookPayload{Embeds: []webhookEmbed{{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(ref.WebhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.NotifyTimeout)
	}
	if err := d.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("post webhook (%s): %w", ref.Source, err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook (%s) returned status %d", ref.Source, code)
	}

	d.logger.Debug().
		Str("clan_tag", n.Clan.Tag).
		Str("event", string(n.Event.Type)).
		Str("channel", ref.Source).
		Msg("notification delivered")
	return nil
}

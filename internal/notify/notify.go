package notify

import (
	"context"
	"errors"

	"clan-tracker/internal/domain"

	"github.com/rs/zerolog"
)

var ErrChannelNotFound = errors.New("no notification channel configured")

// Notification is one event plus the context needed to render it. Record is
// the merged record the event was derived from.
type Notification struct {
	Event  domain.Event
	Clan   domain.TrackedClan
	Record *domain.TrackingRecord
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ChannelRef is a resolved Discord webhook target.
type ChannelRef struct {
	WebhookURL string
	Source     string
}

// ResolveChannel picks the clan's channel for kind, then the clan default,
// then the process-wide fallback.
func ResolveChannel(clan domain.TrackedClan, kind domain.Kind, fallback string) (ChannelRef, error) {
	var perKind string
	switch kind {
	case domain.KindWar:
		perKind = clan.Channels.War
	case domain.KindCWL:
		perKind = clan.Channels.CWL
	case domain.KindCapital:
		perKind = clan.Channels.Capital
	}

	switch {
	case perKind != "":
		return ChannelRef{WebhookURL: perKind, Source: string(kind)}, nil
	case clan.Channels.Default != "":
		return ChannelRef{WebhookURL: clan.Channels.Default, Source: "default"}, nil
	case fallback != "":
		return ChannelRef{WebhookURL: fallback, Source: "global"}, nil
	}
	return ChannelRef{}, ErrChannelNotFound
}

// LogNotifier writes notifications to the log instead of Discord.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	msg := Render(notification)
	n.logger.Info().
		Str("clan_tag", notification.Clan.Tag).
		Str("kind", string(notification.Event.Kind)).
		Str("event", string(notification.Event.Type)).
		Str("title", msg.Title).
		Msg(msg.Description)
	return nil
}

package tracking

import (
	"context"
	"fmt"

	"clan-tracker/internal/config"
	"clan-tracker/internal/constants"
	"clan-tracker/internal/metrics"
	"clan-tracker/internal/notify"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Deliveries hands each event identity to the notifier at most once per
// process. The set is bounded; evicted identities belong to long finished
// episodes.
type Deliveries struct {
	notifier notify.Notifier
	seen     *lru.Cache[string, struct{}]
	logger   zerolog.Logger
}

func NewDeliveries(cfg *config.Config, notifier notify.Notifier, logger zerolog.Logger) (*Deliveries, error) {
	size := cfg.DeliveryCacheSize
	if size <= 0 {
		size = 10000
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create delivery cache: %w", err)
	}
	return &Deliveries{
		notifier: notifier,
		seen:     seen,
		logger:   logger.With().Str("component", "deliveries").Logger(),
	}, nil
}

// Deliver reports whether n was handed to the notifier. Notifier failures
// are logged and never returned.
func (d *Deliveries) Deliver(ctx context.Context, n notify.Notification) bool {
	identity := string(n.Event.Kind) + "|" + n.Event.Identity()
	if seen, _ := d.seen.ContainsOrAdd(identity, struct{}{}); seen {
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		d.logger.Debug().Str("identity", identity).Msg("event already delivered")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, constants.NotifyTimeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Warn().
			Err(err).
			Str("clan_tag", n.Clan.Tag).
			Str("event", string(n.Event.Type)).
			Msg("notification failed")
		return true
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return true
}

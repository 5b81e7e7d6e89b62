package tracking

import (
	"clan-tracker/internal/config"
	"clan-tracker/internal/domain"

	"github.com/rs/zerolog"
)

// NewTrackers builds one reconciler per tracking kind, in domain.Kinds order.
func NewTrackers(
	fetcher Fetcher,
	records *Records,
	clans ClanLister,
	deliveries *Deliveries,
	cfg *config.Config,
	logger zerolog.Logger,
) []Tracker {
	return []Tracker{
		NewReconciler[domain.WarSnapshot](NewWarStrategy(fetcher), records, clans, deliveries, cfg, logger),
		NewReconciler[domain.LeagueSnapshot](NewLeagueStrategy(fetcher), records, clans, deliveries, cfg, logger),
		NewReconciler[domain.CapitalSnapshot](NewCapitalStrategy(fetcher, cfg.RaidLootMilestone), records, clans, deliveries, cfg, logger),
	}
}

// TrackerFor returns the tracker for kind, or nil.
func TrackerFor(trackers []Tracker, kind domain.Kind) Tracker {
	for _, t := range trackers {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

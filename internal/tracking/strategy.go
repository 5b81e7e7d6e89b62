package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clan-tracker/internal/api"
	"clan-tracker/internal/domain"
)

// Strategy is the kind-specific half of a reconciliation pass. Diff and
// Merge must not mutate the snapshot; Merge mutates the record it is given.
type Strategy[S any] interface {
	Kind() domain.Kind
	// Fetch returns domain.ErrEpisodeNotFound when the remote API says there
	// is no episode. Any other error is transient.
	Fetch(ctx context.Context, clan domain.TrackedClan, current *domain.TrackingRecord) (S, error)
	EpisodeID(clanTag string, snap S) string
	Fingerprint(snap S) (string, error)
	// Open creates the record for a newly observed episode. previous is the
	// record being superseded, if any.
	Open(clan domain.TrackedClan, snap S, previous *domain.TrackingRecord, now time.Time) *domain.TrackingRecord
	Diff(rec *domain.TrackingRecord, snap S) []domain.Event
	// Merge applies events and the snapshot to rec and returns follow-up
	// events the merge itself produced.
	Merge(rec *domain.TrackingRecord, snap S, events []domain.Event, now time.Time) []domain.Event
	IsEnded(snap S) bool
	Outcome(rec *domain.TrackingRecord) domain.Outcome
}

// Fetcher is the remote game API.
type Fetcher interface {
	CurrentWar(ctx context.Context, clanTag string) (*api.War, error)
	LeagueGroup(ctx context.Context, clanTag string) (*api.LeagueGroup, error)
	LeagueWar(ctx context.Context, warTag string) (*api.War, error)
	Clan(ctx context.Context, clanTag string) (*api.Clan, error)
	CapitalRaidSeasons(ctx context.Context, clanTag string, limit int) (*api.CapitalRaidSeasons, error)
}

type ClanLister interface {
	ListForKind(ctx context.Context, kind domain.Kind) ([]domain.TrackedClan, error)
}

// Tracker is a reconciler with its snapshot type erased.
type Tracker interface {
	Kind() domain.Kind
	CheckOneClan(ctx context.Context, clan domain.TrackedClan) ([]domain.Event, error)
	CheckAllClans(ctx context.Context) error
}

// classify maps an API failure onto the reconciler's error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, api.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrEpisodeNotFound)
	}
	return domain.Transient(op, err)
}

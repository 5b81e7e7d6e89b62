package tracking

import (
	"context"
	"fmt"
	"time"

	"clan-tracker/internal/domain"
	"clan-tracker/internal/ledger"
)

type WarStrategy struct {
	fetcher Fetcher
}

func NewWarStrategy(fetcher Fetcher) *WarStrategy {
	return &WarStrategy{fetcher: fetcher}
}

func (s *WarStrategy) Kind() domain.Kind {
	return domain.KindWar
}

func (s *WarStrategy) Fetch(ctx context.Context, clan domain.TrackedClan, _ *domain.TrackingRecord) (domain.WarSnapshot, error) {
	w, err := s.fetcher.CurrentWar(ctx, clan.Tag)
	if err != nil {
		return domain.WarSnapshot{}, classify("current war", err)
	}
	if domain.WarPhase(w.State) == domain.PhaseNoEpisode {
		return domain.WarSnapshot{}, fmt.Errorf("war state %q: %w", w.State, domain.ErrEpisodeNotFound)
	}

	snap, ok := warSnapshot(w, clan.Tag, "")
	if !ok {
		return domain.WarSnapshot{}, domain.Transient("current war", fmt.Errorf("clan %s not in war payload", clan.Tag))
	}
	return snap, nil
}

func (s *WarStrategy) EpisodeID(clanTag string, snap domain.WarSnapshot) string {
	return fmt.Sprintf("%s|%s|%s", clanTag, snap.Opponent.Tag, snap.PreparationStartTime.UTC().Format(time.RFC3339))
}

func (s *WarStrategy) Fingerprint(snap domain.WarSnapshot) (string, error) {
	return fingerprint(snap)
}

func (s *WarStrategy) Open(clan domain.TrackedClan, snap domain.WarSnapshot, _ *domain.TrackingRecord, _ time.Time) *domain.TrackingRecord {
	rec := &domain.TrackingRecord{Phase: domain.WarPhase(snap.State)}
	s.mirror(rec, snap)
	return rec
}

func (s *WarStrategy) Diff(rec *domain.TrackingRecord, snap domain.WarSnapshot) []domain.Event {
	var events []domain.Event

	if phase := domain.WarPhase(snap.State); rec.Phase.Advances(phase) && phase != domain.PhaseEnded {
		events = append(events, domain.PhaseChanged(domain.KindWar, rec.ExternalID, 0, rec.Phase, phase))
	}

	for _, a := range unseenAttacks(&snap, 0, newAttackSet(rec.AttackLog)) {
		events = append(events, domain.AttackRecorded(domain.KindWar, rec.ExternalID, a))
	}

	if perfect := snap.TeamSize * 3; perfect > 0 && snap.Clan.Stars >= perfect && rec.Score.ClanStars < perfect {
		events = append(events, domain.MilestoneCrossed(domain.KindWar, rec.ExternalID, snap.Clan.Stars))
	}
	return events
}

func (s *WarStrategy) Merge(rec *domain.TrackingRecord, snap domain.WarSnapshot, events []domain.Event, now time.Time) []domain.Event {
	s.mirror(rec, snap)

	var bases []int
	touched := make(map[int]bool)
	touch := func(base int) {
		if base > 0 && !touched[base] {
			touched[base] = true
			bases = append(bases, base)
		}
	}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventPhaseChanged:
			rec.Phase = ev.To
		case domain.EventAttackRecorded:
			ev.Attack.ObservedAt = now
			recordAttack(rec, *ev.Attack)
			touch(ev.Attack.DefenderPosition)
		}
	}
	// open calls on bases hit in an earlier pass
	for _, res := range rec.Reservations {
		if !res.Fulfilled {
			touch(res.BaseNumber)
		}
	}

	var derived []domain.Event
	for _, base := range bases {
		best, ok := ledger.BestResult(rec, base)
		if !ok {
			continue
		}
		if res, fulfilled := ledger.MarkFulfilled(rec, base, best); fulfilled {
			derived = append(derived, domain.ReservationFulfilled(domain.KindWar, rec.ExternalID, res))
		}
	}
	return derived
}

func (s *WarStrategy) IsEnded(snap domain.WarSnapshot) bool {
	return snap.State == domain.WarStateEnded
}

func (s *WarStrategy) Outcome(rec *domain.TrackingRecord) domain.Outcome {
	out := domain.Outcome{Score: rec.Score, Result: domain.CompareScore(rec.Score)}
	if rec.Phase == domain.PhasePreparation {
		out.Result = domain.ResultNone
	}
	return out
}

// mirror copies the snapshot fields the record shows. Scores never go down
// within a war, so a lagging snapshot cannot undo observed progress.
func (s *WarStrategy) mirror(rec *domain.TrackingRecord, snap domain.WarSnapshot) {
	rec.ClanName = snap.Clan.Name
	rec.OpponentTag = snap.Opponent.Tag
	rec.OpponentName = snap.Opponent.Name
	rec.TeamSize = snap.TeamSize
	rec.Score = rec.Score.Raise(score(&snap))
	rec.StartTime = snap.StartTime
	rec.EndTime = snap.EndTime
	syncMembers(rec, snap.Clan.Members)
}

package tracking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"clan-tracker/internal/api"
	"clan-tracker/internal/constants"
	"clan-tracker/internal/domain"

	"golang.org/x/sync/errgroup"
)

// LeagueStrategy tracks a CWL season as one episode with one nested war per
// day.
type LeagueStrategy struct {
	fetcher Fetcher
}

func NewLeagueStrategy(fetcher Fetcher) *LeagueStrategy {
	return &LeagueStrategy{fetcher: fetcher}
}

func (s *LeagueStrategy) Kind() domain.Kind {
	return domain.KindCWL
}

type roundFetch struct {
	index int
	tags  []string
	wars  []*api.War
}

// Fetch resolves each round to our clan's war. Days already recorded as
// ended are not fetched again, and a known war tag is fetched directly.
func (s *LeagueStrategy) Fetch(ctx context.Context, clan domain.TrackedClan, current *domain.TrackingRecord) (domain.LeagueSnapshot, error) {
	group, err := s.fetcher.LeagueGroup(ctx, clan.Tag)
	if err != nil {
		return domain.LeagueSnapshot{}, classify("league group", err)
	}
	if domain.LeaguePhase(group.State) == domain.PhaseNoEpisode {
		return domain.LeagueSnapshot{}, fmt.Errorf("league state %q: %w", group.State, domain.ErrEpisodeNotFound)
	}

	snap := domain.LeagueSnapshot{
		ClanTag: clan.Tag,
		State:   group.State,
		Season:  group.Season,
		Rounds:  make([]domain.LeagueRound, len(group.Rounds)),
	}

	var known *domain.TrackingRecord
	if current != nil && current.League != nil && current.League.Season == group.Season {
		known = current
	}

	var jobs []*roundFetch
	for i, round := range group.Rounds {
		snap.Rounds[i] = domain.LeagueRound{Day: i + 1}
		tags := make([]string, 0, len(round.WarTags))
		for _, tag := range round.WarTags {
			if tag != "" && tag != api.UnresolvedWarTag {
				tags = append(tags, tag)
			}
		}
		if len(tags) == 0 {
			continue
		}

		if known != nil {
			if day := knownDay(known, tags); day != nil {
				if day.Phase == domain.PhaseEnded {
					snap.Rounds[i].WarTag = day.WarTag
					continue
				}
				tags = []string{day.WarTag}
			}
		}
		jobs = append(jobs, &roundFetch{index: i, tags: tags, wars: make([]*api.War, len(tags))})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.LeagueRoundFetchLimit)
	for _, job := range jobs {
		for t, tag := range job.tags {
			g.Go(func() error {
				w, err := s.fetcher.LeagueWar(gctx, tag)
				if errors.Is(err, api.ErrNotFound) {
					return nil
				}
				if err != nil {
					return domain.Transient("league war "+tag, err)
				}
				job.wars[t] = w
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return domain.LeagueSnapshot{}, err
	}

	for _, job := range jobs {
		for t, w := range job.wars {
			if w == nil {
				continue
			}
			if war, ok := warSnapshot(w, clan.Tag, job.tags[t]); ok {
				snap.Rounds[job.index].WarTag = job.tags[t]
				snap.Rounds[job.index].War = &war
				break
			}
		}
	}
	return snap, nil
}

func knownDay(rec *domain.TrackingRecord, tags []string) *domain.LeagueDay {
	for i := range rec.League.Days {
		if slices.Contains(tags, rec.League.Days[i].WarTag) {
			return &rec.League.Days[i]
		}
	}
	return nil
}

func (s *LeagueStrategy) EpisodeID(clanTag string, snap domain.LeagueSnapshot) string {
	return clanTag + "|" + snap.Season
}

func (s *LeagueStrategy) Fingerprint(snap domain.LeagueSnapshot) (string, error) {
	return fingerprint(snap)
}

func (s *LeagueStrategy) Open(clan domain.TrackedClan, snap domain.LeagueSnapshot, _ *domain.TrackingRecord, now time.Time) *domain.TrackingRecord {
	return &domain.TrackingRecord{
		Phase:     domain.LeaguePhase(snap.State),
		League:    &domain.LeagueState{Season: snap.Season},
		StartTime: now,
	}
}

// dayAssignment maps a resolved round onto a recorded day. index may point
// past the recorded days for a day first seen in this snapshot.
type dayAssignment struct {
	round domain.LeagueRound
	index int
	day   int
}

// assignDays matches rounds to recorded days by war tag, then by opponent
// tag. When two rounds claim the same day the first one wins and the other
// is dropped for this pass.
func assignDays(rec *domain.TrackingRecord, snap domain.LeagueSnapshot) []dayAssignment {
	type slot struct {
		day         int
		warTag      string
		opponentTag string
	}
	var slots []slot
	if rec.League != nil {
		for _, d := range rec.League.Days {
			slots = append(slots, slot{day: d.Day, warTag: d.WarTag, opponentTag: d.OpponentTag})
		}
	}

	claimed := make(map[int]bool)
	var out []dayAssignment
	for _, round := range snap.Rounds {
		if round.War == nil {
			continue
		}
		idx := -1
		for i, sl := range slots {
			if round.WarTag != "" && sl.warTag == round.WarTag {
				idx = i
				break
			}
		}
		if idx < 0 {
			for i, sl := range slots {
				if sl.opponentTag != "" && sl.opponentTag == round.War.Opponent.Tag {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			slots = append(slots, slot{day: round.Day, warTag: round.WarTag, opponentTag: round.War.Opponent.Tag})
			idx = len(slots) - 1
		}
		if claimed[idx] {
			continue
		}
		claimed[idx] = true
		out = append(out, dayAssignment{round: round, index: idx, day: slots[idx].day})
	}
	return out
}

func (s *LeagueStrategy) Diff(rec *domain.TrackingRecord, snap domain.LeagueSnapshot) []domain.Event {
	var events []domain.Event

	if phase := domain.LeaguePhase(snap.State); rec.Phase.Advances(phase) && phase != domain.PhaseEnded {
		events = append(events, domain.PhaseChanged(domain.KindCWL, rec.ExternalID, 0, rec.Phase, phase))
	}

	seen := newAttackSet(rec.AttackLog)
	for _, a := range assignDays(rec, snap) {
		from := domain.PhaseNoEpisode
		if rec.League != nil && a.index < len(rec.League.Days) {
			from = rec.League.Days[a.index].Phase
		}
		if to := domain.WarPhase(a.round.War.State); from.Advances(to) {
			events = append(events, domain.PhaseChanged(domain.KindCWL, rec.ExternalID, a.day, from, to))
		}
		for _, att := range unseenAttacks(a.round.War, a.day, seen) {
			events = append(events, domain.AttackRecorded(domain.KindCWL, rec.ExternalID, att))
		}
	}
	return events
}

func (s *LeagueStrategy) Merge(rec *domain.TrackingRecord, snap domain.LeagueSnapshot, events []domain.Event, now time.Time) []domain.Event {
	if rec.League == nil {
		rec.League = &domain.LeagueState{}
	}
	rec.League.Season = snap.Season

	for _, a := range assignDays(rec, snap) {
		if a.index >= len(rec.League.Days) {
			rec.League.Days = append(rec.League.Days, domain.LeagueDay{Day: a.day})
		}
		day := &rec.League.Days[a.index]
		war := a.round.War

		if day.WarTag == "" {
			day.WarTag = a.round.WarTag
		}
		day.OpponentTag = war.Opponent.Tag
		day.OpponentName = war.Opponent.Name
		day.TeamSize = war.TeamSize
		day.Score = day.Score.Raise(score(war))
		day.StartTime = war.StartTime
		day.EndTime = war.EndTime
		if phase := domain.WarPhase(war.State); day.Phase.Advances(phase) {
			day.Phase = phase
		}
		if day.Phase == domain.PhaseEnded && day.Result == "" {
			day.Result = domain.CompareScore(day.Score)
		}

		rec.ClanName = war.Clan.Name
		syncMembers(rec, war.Clan.Members)
	}

	for _, ev := range events {
		switch ev.Type {
		case domain.EventPhaseChanged:
			if ev.Day == 0 {
				rec.Phase = ev.To
			}
		case domain.EventAttackRecorded:
			ev.Attack.ObservedAt = now
			recordAttack(rec, *ev.Attack)
		}
	}

	sort.SliceStable(rec.League.Days, func(i, j int) bool {
		return rec.League.Days[i].Day < rec.League.Days[j].Day
	})

	var total domain.Score
	for _, d := range rec.League.Days {
		total.ClanStars += d.Score.ClanStars
		total.ClanDestruction += d.Score.ClanDestruction
		total.OpponentStars += d.Score.OpponentStars
		total.OpponentDestruction += d.Score.OpponentDestruction
		if d.TeamSize > rec.TeamSize {
			rec.TeamSize = d.TeamSize
		}
	}
	rec.Score = total
	return nil
}

func (s *LeagueStrategy) IsEnded(snap domain.LeagueSnapshot) bool {
	return snap.State == domain.LeagueStateEnded
}

// Outcome tallies day results over the season.
func (s *LeagueStrategy) Outcome(rec *domain.TrackingRecord) domain.Outcome {
	out := domain.Outcome{Score: rec.Score, Result: domain.ResultNone}
	if rec.League == nil {
		return out
	}
	for _, d := range rec.League.Days {
		switch d.Result {
		case domain.ResultWin:
			out.Wins++
		case domain.ResultLose:
			out.Losses++
		case domain.ResultTie:
			out.Ties++
		}
	}
	switch {
	case out.Wins+out.Losses+out.Ties == 0:
	case out.Wins > out.Losses:
		out.Result = domain.ResultWin
	case out.Wins < out.Losses:
		out.Result = domain.ResultLose
	default:
		out.Result = domain.ResultTie
	}
	return out
}

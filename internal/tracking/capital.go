package tracking

import (
	"context"
	"errors"
	"time"

	"clan-tracker/internal/api"
	"clan-tracker/internal/domain"
)

// CapitalStrategy tracks one weekly capital cycle per episode: the raid
// weekend followed by the upgrade period.
type CapitalStrategy struct {
	fetcher       Fetcher
	lootMilestone int
	now           func() time.Time
}

func NewCapitalStrategy(fetcher Fetcher, lootMilestone int) *CapitalStrategy {
	return &CapitalStrategy{
		fetcher:       fetcher,
		lootMilestone: lootMilestone,
		now:           time.Now,
	}
}

func (s *CapitalStrategy) Kind() domain.Kind {
	return domain.KindCapital
}

func (s *CapitalStrategy) Fetch(ctx context.Context, clan domain.TrackedClan, _ *domain.TrackingRecord) (domain.CapitalSnapshot, error) {
	c, err := s.fetcher.Clan(ctx, clan.Tag)
	if err != nil {
		return domain.CapitalSnapshot{}, classify("clan", err)
	}

	now := s.now().UTC()
	window := RaidWindowAt(now)
	snap := domain.CapitalSnapshot{
		ClanTag:   clan.Tag,
		ClanName:  c.Name,
		HallLevel: c.ClanCapital.CapitalHallLevel,
		Window:    window,
		Phase:     capitalPhase(window, now),
	}
	for _, d := range c.ClanCapital.Districts {
		snap.Districts = append(snap.Districts, domain.District{Name: d.Name, Level: d.DistrictHallLevel})
	}

	seasons, err := s.fetcher.CapitalRaidSeasons(ctx, clan.Tag, 1)
	switch {
	case errors.Is(err, api.ErrNotFound):
		return snap, nil
	case err != nil:
		return domain.CapitalSnapshot{}, domain.Transient("capital raid seasons", err)
	}
	if len(seasons.Items) == 0 {
		return snap, nil
	}

	season := seasons.Items[0]
	// raid starts are stamped at, or shortly before, the window opening
	if !window.Contains(season.StartTime.Add(time.Hour)) {
		return snap, nil
	}
	raid := &domain.RaidSeason{
		State:              season.State,
		StartTime:          season.StartTime.Time,
		EndTime:            season.EndTime.Time,
		Loot:               season.CapitalTotalLoot,
		Attacks:            season.TotalAttacks,
		RaidsCompleted:     season.RaidsCompleted,
		DistrictsDestroyed: season.EnemyDistrictsDestroyed,
	}
	for _, m := range season.Members {
		raid.Members = append(raid.Members, domain.RaidMember{
			Tag:     m.Tag,
			Name:    m.Name,
			Attacks: m.Attacks,
			Loot:    m.CapitalResourcesLooted,
		})
	}
	snap.Raid = raid
	return snap, nil
}

func (s *CapitalStrategy) EpisodeID(clanTag string, snap domain.CapitalSnapshot) string {
	return clanTag + "|" + snap.Window.Start.Format("2006-01-02")
}

func (s *CapitalStrategy) Fingerprint(snap domain.CapitalSnapshot) (string, error) {
	return fingerprint(snap)
}

// Open starts a cycle with fresh raid counters. Capital levels and raid
// history carry over from the previous cycle so upgrades made in between are
// still reported.
func (s *CapitalStrategy) Open(clan domain.TrackedClan, snap domain.CapitalSnapshot, previous *domain.TrackingRecord, now time.Time) *domain.TrackingRecord {
	capital := &domain.CapitalState{
		HallLevel: snap.HallLevel,
		Districts: append([]domain.District(nil), snap.Districts...),
	}
	if previous != nil && previous.Capital != nil {
		prev := previous.Clone().Capital
		finalizeRaid(prev, now)
		capital.HallLevel = prev.HallLevel
		capital.Districts = prev.Districts
		capital.RaidHistory = prev.RaidHistory
	}
	capital.Raid = domain.RaidCounters{
		WindowStart: snap.Window.Start,
		WindowEnd:   snap.Window.End,
		Ordinal:     snap.Window.Ordinal,
	}

	return &domain.TrackingRecord{
		Phase:     snap.Phase,
		ClanName:  snap.ClanName,
		StartTime: snap.Window.Start,
		EndTime:   snap.Window.Start.Add(capitalCycle),
		Capital:   capital,
	}
}

func (s *CapitalStrategy) Diff(rec *domain.TrackingRecord, snap domain.CapitalSnapshot) []domain.Event {
	var events []domain.Event
	c := rec.Capital

	if snap.Phase != rec.Phase {
		events = append(events, domain.PhaseChanged(domain.KindCapital, rec.ExternalID, 0, rec.Phase, snap.Phase))
	}

	if c.HallLevel > 0 && snap.HallLevel > c.HallLevel {
		events = append(events, domain.UpgradeCompleted(domain.KindCapital, rec.ExternalID, capitalHallID, snap.HallLevel))
	}

	known := make(map[string]int, len(c.Districts))
	for _, d := range c.Districts {
		known[d.Name] = d.Level
	}
	for _, d := range snap.Districts {
		level, ok := known[d.Name]
		switch {
		case ok && d.Level > level:
		case !ok && len(known) > 0 && d.Level > 0:
		default:
			continue
		}
		events = append(events, domain.UpgradeCompleted(domain.KindCapital, rec.ExternalID, d.Name, d.Level))
	}

	if s.lootMilestone > 0 && snap.Raid != nil {
		for m := c.Raid.MilestonesReached + 1; m*s.lootMilestone <= snap.Raid.Loot; m++ {
			events = append(events, domain.MilestoneCrossed(domain.KindCapital, rec.ExternalID, m*s.lootMilestone))
		}
	}
	return events
}

func (s *CapitalStrategy) Merge(rec *domain.TrackingRecord, snap domain.CapitalSnapshot, events []domain.Event, now time.Time) []domain.Event {
	c := rec.Capital
	if snap.ClanName != "" {
		rec.ClanName = snap.ClanName
	}
	rec.Phase = snap.Phase

	c.HallLevel = max(c.HallLevel, snap.HallLevel)
	for _, d := range snap.Districts {
		found := false
		for i := range c.Districts {
			if c.Districts[i].Name == d.Name {
				c.Districts[i].Level = max(c.Districts[i].Level, d.Level)
				found = true
				break
			}
		}
		if !found {
			c.Districts = append(c.Districts, d)
		}
	}

	if raid := snap.Raid; raid != nil {
		c.Raid.Loot = max(c.Raid.Loot, raid.Loot)
		c.Raid.Attacks = max(c.Raid.Attacks, raid.Attacks)
		c.Raid.RaidsCompleted = max(c.Raid.RaidsCompleted, raid.RaidsCompleted)
		c.Raid.DistrictsDestroyed = max(c.Raid.DistrictsDestroyed, raid.DistrictsDestroyed)
		for _, rm := range raid.Members {
			m := rec.Member(rm.Tag)
			if m == nil {
				rec.Members = append(rec.Members, domain.MemberStats{Tag: rm.Tag})
				m = &rec.Members[len(rec.Members)-1]
			}
			m.Name = rm.Name
			m.CapitalLoot = max(m.CapitalLoot, rm.Loot)
			m.RaidAttacks = max(m.RaidAttacks, rm.Attacks)
		}
	}

	for _, ev := range events {
		if ev.Type == domain.EventMilestoneCrossed && s.lootMilestone > 0 {
			c.Raid.MilestonesReached = max(c.Raid.MilestonesReached, ev.Value/s.lootMilestone)
		}
	}

	if rec.Phase == domain.PhaseUpgradePeriod {
		finalizeRaid(c, now)
	}
	return nil
}

// IsEnded is always false: a cycle ends when the next one opens.
func (s *CapitalStrategy) IsEnded(domain.CapitalSnapshot) bool {
	return false
}

func (s *CapitalStrategy) Outcome(*domain.TrackingRecord) domain.Outcome {
	return domain.Outcome{Result: domain.ResultNone}
}

package tracking

import (
	"sort"

	"clan-tracker/internal/api"
	"clan-tracker/internal/domain"
)

// attackSet indexes an attack log by composite identity.
type attackSet map[domain.AttackKey]struct{}

func newAttackSet(log []domain.Attack) attackSet {
	s := make(attackSet, len(log))
	for _, a := range log {
		s[a.Key()] = struct{}{}
	}
	return s
}

// add reports whether a was not in the set yet.
func (s attackSet) add(a domain.Attack) bool {
	k := a.Key()
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// unseenAttacks lists our clan's attacks in war that are not in seen, in war
// order, adding them to seen.
func unseenAttacks(war *domain.WarSnapshot, day int, seen attackSet) []domain.Attack {
	positions := make(map[string]int, len(war.Opponent.Members))
	for _, m := range war.Opponent.Members {
		positions[m.Tag] = m.MapPosition
	}

	var out []domain.Attack
	for _, m := range war.Clan.Members {
		for _, wa := range m.Attacks {
			a := domain.Attack{
				Day:              day,
				AttackerTag:      m.Tag,
				AttackerName:     m.Name,
				AttackerPosition: m.MapPosition,
				DefenderTag:      wa.DefenderTag,
				DefenderPosition: positions[wa.DefenderTag],
				Stars:            wa.Stars,
				Destruction:      wa.Destruction,
				Order:            wa.Order,
			}
			if seen.add(a) {
				out = append(out, a)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// recordAttack appends a to the log and bumps the attacker's counters.
func recordAttack(rec *domain.TrackingRecord, a domain.Attack) {
	rec.AttackLog = append(rec.AttackLog, a)
	m := rec.Member(a.AttackerTag)
	if m == nil {
		rec.Members = append(rec.Members, domain.MemberStats{
			Tag:         a.AttackerTag,
			Name:        a.AttackerName,
			MapPosition: a.AttackerPosition,
		})
		m = &rec.Members[len(rec.Members)-1]
	}
	m.AttacksUsed++
	m.StarsEarned += a.Stars
	m.TotalDestruction += a.Destruction
}

// syncMembers refreshes roster details. Members are never removed and
// counters are left alone.
func syncMembers(rec *domain.TrackingRecord, members []domain.WarMember) {
	for _, wm := range members {
		m := rec.Member(wm.Tag)
		if m == nil {
			rec.Members = append(rec.Members, domain.MemberStats{Tag: wm.Tag})
			m = &rec.Members[len(rec.Members)-1]
		}
		m.Name = wm.Name
		m.TownhallLevel = wm.TownhallLevel
		m.MapPosition = wm.MapPosition
	}
}

// warSnapshot converts an API war into our clan's view of it. ok is false
// when clanTag is on neither side.
func warSnapshot(w *api.War, clanTag, warTag string) (domain.WarSnapshot, bool) {
	ours, theirs := w.Clan, w.Opponent
	switch {
	case domain.NormalizeTag(ours.Tag) == clanTag:
	case domain.NormalizeTag(theirs.Tag) == clanTag:
		ours, theirs = theirs, ours
	default:
		return domain.WarSnapshot{}, false
	}

	prep := w.PreparationStartTime.Time
	start := w.StartTime.Time
	if start.IsZero() {
		start = w.WarStartTime.Time
	}
	return domain.WarSnapshot{
		State:                w.State,
		WarTag:               warTag,
		TeamSize:             w.TeamSize,
		AttacksPerMember:     w.AttacksPerMember,
		PreparationStartTime: prep,
		StartTime:            start,
		EndTime:              w.EndTime.Time,
		Clan:                 warClan(ours),
		Opponent:             warClan(theirs),
	}, true
}

func warClan(c api.WarClan) domain.WarClan {
	out := domain.WarClan{
		Tag:         domain.NormalizeTag(c.Tag),
		Name:        c.Name,
		Stars:       c.Stars,
		Destruction: c.DestructionPercentage,
		Members:     make([]domain.WarMember, 0, len(c.Members)),
	}
	for _, m := range c.Members {
		wm := domain.WarMember{
			Tag:           m.Tag,
			Name:          m.Name,
			TownhallLevel: m.TownhallLevel,
			MapPosition:   m.MapPosition,
		}
		for _, a := range m.Attacks {
			wm.Attacks = append(wm.Attacks, domain.WarAttack{
				AttackerTag: a.AttackerTag,
				DefenderTag: a.DefenderTag,
				Stars:       a.Stars,
				Destruction: a.DestructionPercentage,
				Order:       a.Order,
			})
		}
		out.Members = append(out.Members, wm)
	}
	sort.SliceStable(out.Members, func(i, j int) bool {
		return out.Members[i].MapPosition < out.Members[j].MapPosition
	})
	return out
}

func score(w *domain.WarSnapshot) domain.Score {
	return domain.Score{
		ClanStars:           w.Clan.Stars,
		ClanDestruction:     w.Clan.Destruction,
		OpponentStars:       w.Opponent.Stars,
		OpponentDestruction: w.Opponent.Destruction,
	}
}

package tracking

import (
	"time"

	"clan-tracker/internal/constants"
	"clan-tracker/internal/domain"
)

const (
	raidOpenHour  = 7
	raidLength    = 72 * time.Hour
	capitalCycle  = 7 * 24 * time.Hour
	capitalHallID = "Capital Hall"
)

// RaidWindowAt returns the raid weekend of the capital cycle containing t.
// A cycle starts Friday 07:00 UTC; the raid runs until Monday 07:00 UTC.
// Ordinal counts raid weekends within the month, 1 to 5.
func RaidWindowAt(t time.Time) domain.RaidWindow {
	t = t.UTC()
	back := (int(t.Weekday()) - int(time.Friday) + 7) % 7
	start := time.Date(t.Year(), t.Month(), t.Day()-back, raidOpenHour, 0, 0, 0, time.UTC)
	if start.After(t) {
		start = start.Add(-capitalCycle)
	}
	return domain.RaidWindow{
		Start:   start,
		End:     start.Add(raidLength),
		Ordinal: (start.Day()-1)/7 + 1,
	}
}

// capitalPhase is raidWeekend inside the window and upgradePeriod after it.
func capitalPhase(w domain.RaidWindow, t time.Time) domain.Phase {
	if w.Contains(t) {
		return domain.PhaseRaidWeekend
	}
	return domain.PhaseUpgradePeriod
}

// finalizeRaid appends the current raid counters to the history, or
// refreshes the entry if this window was already finalized.
func finalizeRaid(c *domain.CapitalState, now time.Time) {
	if c.Raid.WindowStart.IsZero() {
		return
	}
	if n := len(c.RaidHistory); n > 0 && c.RaidHistory[n-1].WindowStart.Equal(c.Raid.WindowStart) {
		c.RaidHistory[n-1].RaidCounters = c.Raid
		return
	}
	c.RaidHistory = append(c.RaidHistory, domain.RaidSummary{RaidCounters: c.Raid, FinalizedAt: now})
	if over := len(c.RaidHistory) - constants.RaidHistoryLimit; over > 0 {
		c.RaidHistory = append([]domain.RaidSummary(nil), c.RaidHistory[over:]...)
	}
}

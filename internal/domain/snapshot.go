package domain

import "time"

// WarSnapshot is our clan's view of one war, with Clan always being the
// tracked side.
type WarSnapshot struct {
	State                string
	WarTag               string
	TeamSize             int
	AttacksPerMember     int
	PreparationStartTime time.Time
	StartTime            time.Time
	EndTime              time.Time
	Clan                 WarClan
	Opponent             WarClan
}

type WarClan struct {
	Tag         string
	Name        string
	Stars       int
	Destruction float64
	Members     []WarMember
}

type WarMember struct {
	Tag           string
	Name          string
	TownhallLevel int
	MapPosition   int
	Attacks       []WarAttack
}

type WarAttack struct {
	AttackerTag string
	DefenderTag string
	Stars       int
	Destruction float64
	Order       int
}

const (
	WarStatePreparation = "preparation"
	WarStateInWar       = "inWar"
	WarStateEnded       = "warEnded"
	WarStateNotInWar    = "notInWar"
)

// WarPhase maps a remote war state onto the tracking state machine.
func WarPhase(state string) Phase {
	switch state {
	case WarStatePreparation:
		return PhasePreparation
	case WarStateInWar:
		return PhaseBattle
	case WarStateEnded:
		return PhaseEnded
	}
	return PhaseNoEpisode
}

type LeagueSnapshot struct {
	ClanTag string
	State   string
	Season  string
	Rounds  []LeagueRound
}

// LeagueRound is one CWL day. War is nil when the round has no resolvable war
// for our clan yet, or when the day already ended in a previous poll.
type LeagueRound struct {
	Day    int
	WarTag string
	War    *WarSnapshot
}

const (
	LeagueStatePreparation = "preparation"
	LeagueStateInWar       = "inWar"
	LeagueStateEnded       = "ended"
)

func LeaguePhase(state string) Phase {
	switch state {
	case LeagueStatePreparation:
		return PhasePreparation
	case LeagueStateInWar:
		return PhaseBattle
	case LeagueStateEnded:
		return PhaseEnded
	}
	return PhaseNoEpisode
}

type CapitalSnapshot struct {
	ClanTag   string
	ClanName  string
	HallLevel int
	Districts []District
	Window    RaidWindow
	Phase     Phase
	// Raid is nil when the remote API has no raid season for Window yet.
	Raid *RaidSeason
}

type RaidWindow struct {
	Start   time.Time
	End     time.Time
	Ordinal int
}

func (w RaidWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type RaidSeason struct {
	State              string
	StartTime          time.Time
	EndTime            time.Time
	Loot               int
	Attacks            int
	RaidsCompleted     int
	DistrictsDestroyed int
	Members            []RaidMember
}

type RaidMember struct {
	Tag     string
	Name    string
	Attacks int
	Loot    int
}

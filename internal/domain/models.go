package domain

import (
	"strings"
	"time"
)

type Kind string

const (
	KindWar     Kind = "war"
	KindCWL     Kind = "cwl"
	KindCapital Kind = "capital"
)

var Kinds = []Kind{KindWar, KindCWL, KindCapital}

func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(s)) {
	case KindWar:
		return KindWar, true
	case KindCWL:
		return KindCWL, true
	case KindCapital:
		return KindCapital, true
	}
	return "", false
}

type Phase string

const (
	PhaseNoEpisode   Phase = "noEpisode"
	PhasePreparation Phase = "preparation"
	PhaseBattle      Phase = "battle"
	PhaseEnded       Phase = "ended"

	// capital cycles
	PhaseRaidWeekend   Phase = "raidWeekend"
	PhaseUpgradePeriod Phase = "upgradePeriod"
)

var warPhaseRank = map[Phase]int{
	PhasePreparation: 1,
	PhaseBattle:      2,
	PhaseEnded:       3,
}

// Advances reports whether moving from p to next goes forward in the war
// state machine. Remote data can lag behind what was already observed, so a
// war never moves back to an earlier phase within one episode.
func (p Phase) Advances(next Phase) bool {
	return warPhaseRank[next] > warPhaseRank[p]
}

// TrackedClan is a registered clan and where its notifications go.
type TrackedClan struct {
	Tag          string
	GuildID      string
	Name         string
	TrackWar     bool
	TrackCWL     bool
	TrackCapital bool
	Channels     Channels
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Channels holds Discord webhook URLs per tracking kind.
type Channels struct {
	Default string `json:"default,omitempty"`
	War     string `json:"war,omitempty"`
	CWL     string `json:"cwl,omitempty"`
	Capital string `json:"capital,omitempty"`
}

func (c TrackedClan) Tracks(kind Kind) bool {
	switch kind {
	case KindWar:
		return c.TrackWar
	case KindCWL:
		return c.TrackCWL
	case KindCapital:
		return c.TrackCapital
	}
	return false
}

// NormalizeTag uppercases a player/clan tag, maps the letter O to zero and
// ensures a single leading '#'.
func NormalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	tag = strings.TrimLeft(tag, "#")
	tag = strings.ReplaceAll(tag, "O", "0")
	if tag == "" {
		return ""
	}
	return "#" + tag
}

type TrackingRecord struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	ClanTag     string `json:"clanTag"`
	GuildID     string `json:"guildId"`
	Kind        Kind   `json:"kind"`
	IsActive    bool   `json:"isActive"`
	Phase       Phase  `json:"phase"`
	ExternalID  string `json:"externalId"`
	Fingerprint string `json:"lastSnapshotFingerprint"`

	ClanName     string `json:"clanName,omitempty"`
	OpponentTag  string `json:"opponentTag,omitempty"`
	OpponentName string `json:"opponentName,omitempty"`
	TeamSize     int    `json:"teamSize,omitempty"`
	Score        Score  `json:"score"`

	Members      []MemberStats `json:"members"`
	AttackLog    []Attack      `json:"attackLog"`
	Reservations []Reservation `json:"reservations,omitempty"`

	League  *LeagueState  `json:"league,omitempty"`
	Capital *CapitalState `json:"capital,omitempty"`
	Outcome *Outcome      `json:"outcome,omitempty"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Score struct {
	ClanStars           int     `json:"clanStars"`
	ClanDestruction     float64 `json:"clanDestruction"`
	OpponentStars       int     `json:"opponentStars"`
	OpponentDestruction float64 `json:"opponentDestruction"`
}

// Raise keeps the higher of each counter. Stars and destruction only grow
// during a war.
func (s Score) Raise(o Score) Score {
	return Score{
		ClanStars:           max(s.ClanStars, o.ClanStars),
		ClanDestruction:     max(s.ClanDestruction, o.ClanDestruction),
		OpponentStars:       max(s.OpponentStars, o.OpponentStars),
		OpponentDestruction: max(s.OpponentDestruction, o.OpponentDestruction),
	}
}

type MemberStats struct {
	Tag              string  `json:"tag"`
	Name             string  `json:"name"`
	TownhallLevel    int     `json:"townhallLevel,omitempty"`
	MapPosition      int     `json:"mapPosition,omitempty"`
	AttacksUsed      int     `json:"attacksUsed"`
	StarsEarned      int     `json:"starsEarned"`
	TotalDestruction float64 `json:"totalDestruction"`
	CapitalLoot      int     `json:"capitalLoot,omitempty"`
	RaidAttacks      int     `json:"raidAttacks,omitempty"`
}

type Attack struct {
	Day              int       `json:"day,omitempty"`
	AttackerTag      string    `json:"attackerTag"`
	AttackerName     string    `json:"attackerName,omitempty"`
	AttackerPosition int       `json:"attackerPosition,omitempty"`
	DefenderTag      string    `json:"defenderTag"`
	DefenderPosition int       `json:"defenderPosition,omitempty"`
	Stars            int       `json:"stars"`
	Destruction      float64   `json:"destructionPercentage"`
	Order            int       `json:"order,omitempty"`
	ObservedAt       time.Time `json:"observedAt"`
}

// AttackKey is the composite identity of an attack within one episode scope.
type AttackKey struct {
	Day         int
	AttackerTag string
	DefenderTag string
	Stars       int
	Destruction float64
}

func (a Attack) Key() AttackKey {
	return AttackKey{
		Day:         a.Day,
		AttackerTag: a.AttackerTag,
		DefenderTag: a.DefenderTag,
		Stars:       a.Stars,
		Destruction: a.Destruction,
	}
}

// Beats reports whether r is a better result than o: more stars, then more
// destruction.
func (r AttackResult) Beats(o AttackResult) bool {
	if r.Stars != o.Stars {
		return r.Stars > o.Stars
	}
	return r.Destruction > o.Destruction
}

type AttackResult struct {
	Stars       int     `json:"stars"`
	Destruction float64 `json:"destructionPercentage"`
	AttackerTag string  `json:"attackerTag,omitempty"`
}

func (a Attack) Result() AttackResult {
	return AttackResult{Stars: a.Stars, Destruction: a.Destruction, AttackerTag: a.AttackerTag}
}

type Reservation struct {
	ID         string        `json:"id"`
	BaseNumber int           `json:"baseNumber"`
	OwnerID    string        `json:"ownerId"`
	Note       string        `json:"note,omitempty"`
	ReservedAt time.Time     `json:"reservedAt"`
	Fulfilled  bool          `json:"fulfilled"`
	Result     *AttackResult `json:"result,omitempty"`
}

type LeagueState struct {
	Season string      `json:"season"`
	Days   []LeagueDay `json:"days"`
}

type LeagueDay struct {
	Day          int       `json:"day"`
	WarTag       string    `json:"warTag"`
	OpponentTag  string    `json:"opponentTag"`
	OpponentName string    `json:"opponentName"`
	Phase        Phase     `json:"phase"`
	TeamSize     int       `json:"teamSize"`
	Score        Score     `json:"score"`
	Result       Result    `json:"result,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
}

type CapitalState struct {
	HallLevel   int           `json:"capitalHallLevel"`
	Districts   []District    `json:"districts"`
	Raid        RaidCounters  `json:"raid"`
	RaidHistory []RaidSummary `json:"raidHistory,omitempty"`
}

type District struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

type RaidCounters struct {
	WindowStart        time.Time `json:"windowStart"`
	WindowEnd          time.Time `json:"windowEnd"`
	Ordinal            int       `json:"ordinal"`
	Loot               int       `json:"loot"`
	Attacks            int       `json:"attacks"`
	RaidsCompleted     int       `json:"raidsCompleted"`
	DistrictsDestroyed int       `json:"districtsDestroyed"`
	MilestonesReached  int       `json:"milestonesReached"`
}

type RaidSummary struct {
	RaidCounters
	FinalizedAt time.Time `json:"finalizedAt"`
}

type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
	ResultTie  Result = "tie"
	// no attack comparison possible (episode never reached battle)
	ResultNone Result = "none"
)

type Outcome struct {
	Result Result `json:"result"`
	Score  Score  `json:"score"`
	Wins   int    `json:"wins,omitempty"`
	Losses int    `json:"losses,omitempty"`
	Ties   int    `json:"ties,omitempty"`
}

// CompareScore decides a result by stars, then destruction, then a tie.
func CompareScore(s Score) Result {
	switch {
	case s.ClanStars > s.OpponentStars:
		return ResultWin
	case s.ClanStars < s.OpponentStars:
		return ResultLose
	case s.ClanDestruction > s.OpponentDestruction:
		return ResultWin
	case s.ClanDestruction < s.OpponentDestruction:
		return ResultLose
	}
	return ResultTie
}

func (r *TrackingRecord) Member(tag string) *MemberStats {
	for i := range r.Members {
		if r.Members[i].Tag == tag {
			return &r.Members[i]
		}
	}
	return nil
}

func (r *TrackingRecord) Day(day int) *LeagueDay {
	if r.League == nil {
		return nil
	}
	for i := range r.League.Days {
		if r.League.Days[i].Day == day {
			return &r.League.Days[i]
		}
	}
	return nil
}

// Clone returns a deep copy so cached records are never mutated in place.
func (r *TrackingRecord) Clone() *TrackingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Members = append([]MemberStats(nil), r.Members...)
	c.AttackLog = append([]Attack(nil), r.AttackLog...)
	if r.Reservations != nil {
		c.Reservations = make([]Reservation, len(r.Reservations))
		for i, res := range r.Reservations {
			if res.Result != nil {
				result := *res.Result
				res.Result = &result
			}
			c.Reservations[i] = res
		}
	}
	if r.League != nil {
		league := *r.League
		league.Days = append([]LeagueDay(nil), r.League.Days...)
		c.League = &league
	}
	if r.Capital != nil {
		capital := *r.Capital
		capital.Districts = append([]District(nil), r.Capital.Districts...)
		capital.RaidHistory = append([]RaidSummary(nil), r.Capital.RaidHistory...)
		c.Capital = &capital
	}
	if r.Outcome != nil {
		outcome := *r.Outcome
		c.Outcome = &outcome
	}
	return &c
}

package api

import (
	"strings"
	"time"
)

// Time is the API's compact timestamp, e.g. 20240301T120000.000Z.
type Time struct {
	time.Time
}

const timeLayout = "20060102T150405.000Z"

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.UTC().Format(timeLayout) + `"`), nil
}

type ClientError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type War struct {
	State                string  `json:"state"`
	TeamSize             int     `json:"teamSize"`
	AttacksPerMember     int     `json:"attacksPerMember"`
	PreparationStartTime Time    `json:"preparationStartTime"`
	StartTime            Time    `json:"startTime"`
	EndTime              Time    `json:"endTime"`
	WarStartTime         Time    `json:"warStartTime"`
	Clan                 WarClan `json:"clan"`
	Opponent             WarClan `json:"opponent"`
}

type WarClan struct {
	Tag                   string      `json:"tag"`
	Name                  string      `json:"name"`
	ClanLevel             int         `json:"clanLevel"`
	Attacks               int         `json:"attacks"`
	Stars                 int         `json:"stars"`
	DestructionPercentage float64     `json:"destructionPercentage"`
	Members               []WarMember `json:"members"`
}

type WarMember struct {
	Tag           string      `json:"tag"`
	Name          string      `json:"name"`
	TownhallLevel int         `json:"townhallLevel"`
	MapPosition   int         `json:"mapPosition"`
	Attacks       []WarAttack `json:"attacks"`
}

type WarAttack struct {
	AttackerTag           string  `json:"attackerTag"`
	DefenderTag           string  `json:"defenderTag"`
	Stars                 int     `json:"stars"`
	DestructionPercentage float64 `json:"destructionPercentage"`
	Order                 int     `json:"order"`
	Duration              int     `json:"duration"`
}

type LeagueGroup struct {
	State  string        `json:"state"`
	Season string        `json:"season"`
	Clans  []LeagueClan  `json:"clans"`
	Rounds []LeagueRound `json:"rounds"`
}

type LeagueClan struct {
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	ClanLevel int    `json:"clanLevel"`
}

type LeagueRound struct {
	WarTags []string `json:"warTags"`
}

// UnresolvedWarTag marks a round whose wars are not drawn yet.
const UnresolvedWarTag = "#0"

type Clan struct {
	Tag         string      `json:"tag"`
	Name        string      `json:"name"`
	ClanLevel   int         `json:"clanLevel"`
	ClanCapital ClanCapital `json:"clanCapital"`
}

type ClanCapital struct {
	CapitalHallLevel int               `json:"capitalHallLevel"`
	Districts        []CapitalDistrict `json:"districts"`
}

type CapitalDistrict struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	DistrictHallLevel int    `json:"districtHallLevel"`
}

type CapitalRaidSeasons struct {
	Items []CapitalRaidSeason `json:"items"`
}

type CapitalRaidSeason struct {
	State                   string              `json:"state"`
	StartTime               Time                `json:"startTime"`
	EndTime                 Time                `json:"endTime"`
	CapitalTotalLoot        int                 `json:"capitalTotalLoot"`
	RaidsCompleted          int                 `json:"raidsCompleted"`
	TotalAttacks            int                 `json:"totalAttacks"`
	EnemyDistrictsDestroyed int                 `json:"enemyDistrictsDestroyed"`
	Members                 []CapitalRaidMember `json:"members"`
}

type CapitalRaidMember struct {
	Tag                    string `json:"tag"`
	Name                   string `json:"name"`
	Attacks                int    `json:"attacks"`
	AttackLimit            int    `json:"attackLimit"`
	BonusAttackLimit       int    `json:"bonusAttackLimit"`
	CapitalResourcesLooted int    `json:"capitalResourcesLooted"`
}

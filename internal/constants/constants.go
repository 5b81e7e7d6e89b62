package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	NotifyTimeout      = 10 * time.Second
	// upper bound for one clan's reconciliation pass, fetch included
	ClanPassTimeout = 45 * time.Second
)

const (
	DBMaxOpenConns    = 4
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// CWL rounds share one group; four war tags per round at most.
	LeagueRoundFetchLimit = 4
	RaidHistoryLimit      = 10
	PersistenceRetries    = 1
)

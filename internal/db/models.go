package db

import (
	"time"
)

type TrackedClan struct {
	ClanTag      string
	GuildID      string
	Name         string
	TrackWar     bool
	TrackCwl     bool
	TrackCapital bool
	Channels     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TrackingRecord struct {
	ID         string
	ClanTag    string
	Kind       string
	GuildID    string
	ExternalID string
	IsActive   bool
	Version    int64
	Document   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

package db

import (
	"context"
	"time"
)

const trackingRecordColumns = `id, clan_tag, kind, guild_id, external_id, is_active, version, document, created_at, updated_at`

func scanTrackingRecord(row interface{ Scan(...interface{}) error }) (TrackingRecord, error) {
	var i TrackingRecord
	err := row.Scan(
		&i.ID,
		&i.ClanTag,
		&i.Kind,
		&i.GuildID,
		&i.ExternalID,
		&i.IsActive,
		&i.Version,
		&i.Document,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getActiveRecord = `SELECT ` + trackingRecordColumns + `
FROM tracking_records
WHERE clan_tag = ? AND kind = ? AND is_active = 1
LIMIT 1`

type GetActiveRecordParams struct {
	ClanTag string
	Kind    string
}

func (q *Queries) GetActiveRecord(ctx context.Context, arg GetActiveRecordParams) (TrackingRecord, error) {
	row := q.db.QueryRowContext(ctx, getActiveRecord, arg.ClanTag, arg.Kind)
	return scanTrackingRecord(row)
}

const getRecordByEpisode = `SELECT ` + trackingRecordColumns + `
FROM tracking_records
WHERE clan_tag = ? AND kind = ? AND external_id = ?
ORDER BY created_at DESC
LIMIT 1`

type GetRecordByEpisodeParams struct {
	ClanTag    string
	Kind       string
	ExternalID string
}

func (q *Queries) GetRecordByEpisode(ctx context.Context, arg GetRecordByEpisodeParams) (TrackingRecord, error) {
	row := q.db.QueryRowContext(ctx, getRecordByEpisode, arg.ClanTag, arg.Kind, arg.ExternalID)
	return scanTrackingRecord(row)
}

const listActiveRecords = `SELECT ` + trackingRecordColumns + `
FROM tracking_records
WHERE is_active = 1
ORDER BY kind, clan_tag`

func (q *Queries) ListActiveRecords(ctx context.Context) ([]TrackingRecord, error) {
	return q.listRecords(ctx, listActiveRecords)
}

const listRecordsByClan = `SELECT ` + trackingRecordColumns + `
FROM tracking_records
WHERE clan_tag = ? AND kind = ?
ORDER BY created_at DESC
LIMIT ?`

type ListRecordsByClanParams struct {
	ClanTag string
	Kind    string
	Limit   int64
}

func (q *Queries) ListRecordsByClan(ctx context.Context, arg ListRecordsByClanParams) ([]TrackingRecord, error) {
	return q.listRecords(ctx, listRecordsByClan, arg.ClanTag, arg.Kind, arg.Limit)
}

func (q *Queries) listRecords(ctx context.Context, query string, args ...interface{}) ([]TrackingRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TrackingRecord
	for rows.Next() {
		i, err := scanTrackingRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertRecord = `INSERT INTO tracking_records (
    id, clan_tag, kind, guild_id, external_id, is_active, version, document, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type InsertRecordParams struct {
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

func (q *Queries) InsertRecord(ctx context.Context, arg InsertRecordParams) error {
	_, err := q.db.ExecContext(ctx, insertRecord,
		arg.ID,
		arg.ClanTag,
		arg.Kind,
		arg.GuildID,
		arg.ExternalID,
		arg.IsActive,
		arg.Version,
		arg.Document,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateRecord = `UPDATE tracking_records
SET guild_id = ?, external_id = ?, is_active = ?, version = ?, document = ?, updated_at = ?
WHERE id = ? AND version = ?`

type UpdateRecordParams struct {
	GuildID         string
	ExternalID      string
	IsActive        bool
	Version         int64
	Document        string
	UpdatedAt       time.Time
	ID              string
	ExpectedVersion int64
}

// UpdateRecord returns the number of rows changed; zero means the expected
// version no longer matches.
func (q *Queries) UpdateRecord(ctx context.Context, arg UpdateRecordParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateRecord,
		arg.GuildID,
		arg.ExternalID,
		arg.IsActive,
		arg.Version,
		arg.Document,
		arg.UpdatedAt,
		arg.ID,
		arg.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

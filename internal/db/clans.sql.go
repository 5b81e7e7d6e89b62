package db

import (
	"context"
)

const trackedClanColumns = `clan_tag, guild_id, name, track_war, track_cwl, track_capital, channels, created_at, updated_at`

func scanTrackedClan(row interface{ Scan(...interface{}) error }) (TrackedClan, error) {
	var i TrackedClan
	err := row.Scan(
		&i.ClanTag,
		&i.GuildID,
		&i.Name,
		&i.TrackWar,
		&i.TrackCwl,
		&i.TrackCapital,
		&i.Channels,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertClan = `INSERT INTO tracked_clans (
    clan_tag, guild_id, name, track_war, track_cwl, track_capital, channels, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (clan_tag) DO UPDATE SET
    guild_id = excluded.guild_id,
    name = CASE WHEN excluded.name = '' THEN tracked_clans.name ELSE excluded.name END,
    track_war = excluded.track_war,
    track_cwl = excluded.track_cwl,
    track_capital = excluded.track_capital,
    channels = excluded.channels,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertClan(ctx context.Context, arg TrackedClan) error {
	_, err := q.db.ExecContext(ctx, upsertClan,
		arg.ClanTag,
		arg.GuildID,
		arg.Name,
		arg.TrackWar,
		arg.TrackCwl,
		arg.TrackCapital,
		arg.Channels,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getClan = `SELECT ` + trackedClanColumns + ` FROM tracked_clans WHERE clan_tag = ?`

func (q *Queries) GetClan(ctx context.Context, clanTag string) (TrackedClan, error) {
	row := q.db.QueryRowContext(ctx, getClan, clanTag)
	return scanTrackedClan(row)
}

const listClans = `SELECT ` + trackedClanColumns + ` FROM tracked_clans ORDER BY clan_tag`

func (q *Queries) ListClans(ctx context.Context) ([]TrackedClan, error) {
	rows, err := q.db.QueryContext(ctx, listClans)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TrackedClan
	for rows.Next() {
		i, err := scanTrackedClan(rows)
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

const deleteClan = `DELETE FROM tracked_clans WHERE clan_tag = ?`

func (q *Queries) DeleteClan(ctx context.Context, clanTag string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteClan, clanTag)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

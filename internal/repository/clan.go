package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clan-tracker/internal/db"
	"clan-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type ClanRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
}

func NewClanRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *ClanRepository {
	return &ClanRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
	}
}

func (r *ClanRepository) Upsert(ctx context.Context, clan *domain.TrackedClan) error {
	channels, err := json.Marshal(clan.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	now := time.Now().UTC()
	if clan.CreatedAt.IsZero() {
		clan.CreatedAt = now
	}
	clan.UpdatedAt = now

	return r.queries.UpsertClan(ctx, db.TrackedClan{
		ClanTag:      clan.Tag,
		GuildID:      clan.GuildID,
		Name:         clan.Name,
		TrackWar:     clan.TrackWar,
		TrackCwl:     clan.TrackCWL,
		TrackCapital: clan.TrackCapital,
		Channels:     string(channels),
		CreatedAt:    clan.CreatedAt,
		UpdatedAt:    clan.UpdatedAt,
	})
}

func (r *ClanRepository) Get(ctx context.Context, clanTag string) (*domain.TrackedClan, error) {
	row, err := r.queries.GetClan(ctx, clanTag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClanNotFound
	}
	if err != nil {
		return nil, err
	}
	return toTrackedClan(row)
}

func (r *ClanRepository) List(ctx context.Context) ([]domain.TrackedClan, error) {
	rows, err := r.queries.ListClans(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]domain.TrackedClan, 0, len(rows))
	for _, row := range rows {
		clan, err := toTrackedClan(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *clan)
	}
	return result, nil
}

func (r *ClanRepository) ListForKind(ctx context.Context, kind domain.Kind) ([]domain.TrackedClan, error) {
	clans, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := clans[:0]
	for _, clan := range clans {
		if clan.Tracks(kind) {
			filtered = append(filtered, clan)
		}
	}
	return filtered, nil
}

func (r *ClanRepository) Delete(ctx context.Context, clanTag string) error {
	n, err := r.queries.DeleteClan(ctx, clanTag)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrClanNotFound
	}
	return nil
}

func toTrackedClan(row db.TrackedClan) (*domain.TrackedClan, error) {
	clan := &domain.TrackedClan{
		Tag:          row.ClanTag,
		GuildID:      row.GuildID,
		Name:         row.Name,
		TrackWar:     row.TrackWar,
		TrackCWL:     row.TrackCwl,
		TrackCapital: row.TrackCapital,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Channels != "" {
		if err := json.Unmarshal([]byte(row.Channels), &clan.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels for %s: %w", row.ClanTag, err)
		}
	}
	return clan, nil
}

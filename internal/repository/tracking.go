package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"clan-tracker/internal/db"
	"clan-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type TrackingRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
	now     func() time.Time
}

func NewTrackingRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *TrackingRepository {
	return &TrackingRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
		now:     time.Now,
	}
}

func (r *TrackingRepository) GetActive(ctx context.Context, clanTag string, kind domain.Kind) (*domain.TrackingRecord, error) {
	row, err := r.queries.GetActiveRecord(ctx, db.GetActiveRecordParams{
		ClanTag: clanTag,
		Kind:    string(kind),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active %s record for %s: %w", kind, clanTag, err)
	}
	return decodeRecord(row)
}

func (r *TrackingRepository) GetByEpisode(ctx context.Context, clanTag string, kind domain.Kind, externalID string) (*domain.TrackingRecord, error) {
	row, err := r.queries.GetRecordByEpisode(ctx, db.GetRecordByEpisodeParams{
		ClanTag:    clanTag,
		Kind:       string(kind),
		ExternalID: externalID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record %s: %w", kind, externalID, err)
	}
	return decodeRecord(row)
}

// ListActive is the catch-up load: every record still marked active.
func (r *TrackingRepository) ListActive(ctx context.Context) ([]*domain.TrackingRecord, error) {
	rows, err := r.queries.ListActiveRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active records: %w", err)
	}
	return decodeRecords(rows)
}

func (r *TrackingRepository) History(ctx context.Context, clanTag string, kind domain.Kind, limit int) ([]*domain.TrackingRecord, error) {
	rows, err := r.queries.ListRecordsByClan(ctx, db.ListRecordsByClanParams{
		ClanTag: clanTag,
		Kind:    string(kind),
		Limit:   int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s history for %s: %w", kind, clanTag, err)
	}
	return decodeRecords(rows)
}

// Commit writes all records in one transaction. A record with Version 0 is
// inserted; any other record is updated only if its stored version still
// equals Version. On success every record's Version, ID and timestamps are
// advanced in place. Deactivations are written before activations so a
// superseded episode never collides with its successor on the one-active
// index.
func (r *TrackingRepository) Commit(ctx context.Context, records ...*domain.TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}

	ordered := append([]*domain.TrackingRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !ordered[i].IsActive && ordered[j].IsActive
	})

	now := r.now().UTC()
	type pending struct {
		id        string
		version   int64
		createdAt time.Time
	}
	results := make([]pending, len(ordered))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	for i, rec := range ordered {
		next := pending{id: rec.ID, version: rec.Version + 1, createdAt: rec.CreatedAt}
		if next.id == "" {
			next.id, err = gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
		}
		if next.createdAt.IsZero() {
			next.createdAt = now
		}

		doc := *rec
		doc.ID = next.id
		doc.Version = next.version
		doc.CreatedAt = next.createdAt
		doc.UpdatedAt = now
		body, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", next.id, err)
		}

		if rec.Version == 0 {
			err = qtx.InsertRecord(ctx, db.InsertRecordParams{
				ID:         next.id,
				ClanTag:    rec.ClanTag,
				Kind:       string(rec.Kind),
				GuildID:    rec.GuildID,
				ExternalID: rec.ExternalID,
				IsActive:   rec.IsActive,
				Version:    next.version,
				Document:   string(body),
				CreatedAt:  next.createdAt,
				UpdatedAt:  now,
			})
			if isUniqueViolation(err) {
				return fmt.Errorf("insert %s record for %s: %w", rec.Kind, rec.ClanTag, domain.ErrPersistenceConflict)
			}
			if err != nil {
				return fmt.Errorf("failed to insert record %s: %w", next.id, err)
			}
		} else {
			n, err := qtx.UpdateRecord(ctx, db.UpdateRecordParams{
				GuildID:         rec.GuildID,
				ExternalID:      rec.ExternalID,
				IsActive:        rec.IsActive,
				Version:         next.version,
				Document:        string(body),
				UpdatedAt:       now,
				ID:              rec.ID,
				ExpectedVersion: rec.Version,
			})
			if isUniqueViolation(err) {
				return fmt.Errorf("update record %s: %w", rec.ID, domain.ErrPersistenceConflict)
			}
			if err != nil {
				return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("record %s at version %d: %w", rec.ID, rec.Version, domain.ErrPersistenceConflict)
			}
		}
		results[i] = next
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	for i, rec := range ordered {
		rec.ID = results[i].id
		rec.Version = results[i].version
		rec.CreatedAt = results[i].createdAt
		rec.UpdatedAt = now
	}

	r.logger.Debug().Int("records", len(ordered)).Msg("tracking records committed")
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func decodeRecord(row db.TrackingRecord) (*domain.TrackingRecord, error) {
	var rec domain.TrackingRecord
	if err := json.Unmarshal([]byte(row.Document), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", row.ID, err)
	}
	// indexed columns are authoritative over the document copy
	rec.ID = row.ID
	rec.Version = row.Version
	rec.IsActive = row.IsActive
	rec.ExternalID = row.ExternalID
	rec.ClanTag = row.ClanTag
	rec.Kind = domain.Kind(row.Kind)
	return &rec, nil
}

func decodeRecords(rows []db.TrackingRecord) ([]*domain.TrackingRecord, error) {
	records := make([]*domain.TrackingRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

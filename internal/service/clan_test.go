package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"clan-tracker/internal/api"
	"clan-tracker/internal/config"
	"clan-tracker/internal/database"
	"clan-tracker/internal/db"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/repository"
	"clan-tracker/internal/tracking"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	clans map[string]*api.Clan
	err   error
	calls int
}

func (f *fakeAPI) Clan(_ context.Context, tag string) (*api.Clan, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.clans[tag]
	if !ok {
		return nil, fmt.Errorf("clan: %w", api.ErrNotFound)
	}
	return c, nil
}

func newTestService(t *testing.T, coc *fakeAPI) (*ClanService, *repository.TrackingRepository) {
	t.Helper()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "service.db")}
	sqlDB, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	queries := db.New(sqlDB)
	trackingRepo := repository.NewTrackingRepository(sqlDB, queries, zerolog.Nop())
	svc := NewClanService(
		coc,
		repository.NewClanRepository(sqlDB, queries, zerolog.Nop()),
		trackingRepo,
		tracking.NewRecords(trackingRepo),
		nil,
		zerolog.Nop(),
	)
	return svc, trackingRepo
}

func TestRegister(t *testing.T) {
	coc := &fakeAPI{clans: map[string]*api.Clan{"#PQ0": {Tag: "#PQ0", Name: "Remote Name"}}}
	svc, _ := newTestService(t, coc)
	ctx := context.Background()

	first, err := svc.Register(ctx, domain.TrackedClan{Tag: " pqo ", GuildID: "guild-1", TrackWar: true, Name: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "#PQ0", first.Tag)
	assert.Equal(t, "Remote Name", first.Name)

	second, err := svc.Register(ctx, domain.TrackedClan{Tag: "#PQ0", GuildID: "guild-2", TrackCapital: true})
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	stored, err := svc.Get(ctx, "pq0")
	require.NoError(t, err)
	assert.Equal(t, "guild-2", stored.GuildID)
	assert.False(t, stored.TrackWar)
	assert.True(t, stored.TrackCapital)

	_, err = svc.Register(ctx, domain.TrackedClan{Tag: "#MISSING", GuildID: "guild-1"})
	assert.ErrorIs(t, err, domain.ErrClanNotFound)

	_, err = svc.Register(ctx, domain.TrackedClan{Tag: "  ", GuildID: "guild-1"})
	assert.ErrorIs(t, err, domain.ErrClanNotFound)
	assert.Equal(t, 3, coc.calls)

	coc.err = errors.New("connection reset")
	_, err = svc.Register(ctx, domain.TrackedClan{Tag: "#PQ0", GuildID: "guild-1"})
	assert.True(t, domain.IsTransient(err))

	require.NoError(t, svc.Remove(ctx, "#PQ0"))
	assert.ErrorIs(t, svc.Remove(ctx, "#PQ0"), domain.ErrClanNotFound)
}

func TestRecordsAndHistory(t *testing.T) {
	svc, repo := newTestService(t, &fakeAPI{})
	ctx := context.Background()

	_, err := svc.ActiveRecord(ctx, "#AAA", domain.KindCWL)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	old := &domain.TrackingRecord{ClanTag: "#AAA", Kind: domain.KindCWL, ExternalID: "#AAA|2024-02"}
	current := &domain.TrackingRecord{ClanTag: "#AAA", Kind: domain.KindCWL, IsActive: true, ExternalID: "#AAA|2024-03"}
	require.NoError(t, repo.Commit(ctx, old))
	require.NoError(t, repo.Commit(ctx, current))

	rec, err := svc.ActiveRecord(ctx, "aaa", domain.KindCWL)
	require.NoError(t, err)
	assert.Equal(t, "#AAA|2024-03", rec.ExternalID)

	history, err := svc.History(ctx, "#AAA", domain.KindCWL, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = svc.Refresh(ctx, "#AAA", domain.KindCWL)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

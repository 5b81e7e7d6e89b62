package tracking

import (
	"context"
	"sync"
	"testing"

	"clan-tracker/internal/config"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/notify"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	mu        sync.Mutex
	active    map[recordKey]*domain.TrackingRecord
	gets      int
	commitErr error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{active: make(map[recordKey]*domain.TrackingRecord)}
}

func (r *countingRepo) GetActive(_ context.Context, tag string, kind domain.Kind) (*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	rec, ok := r.active[recordKey{tag, kind}]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *countingRepo) ListActive(context.Context) ([]*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TrackingRecord
	for _, rec := range r.active {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (r *countingRepo) Commit(_ context.Context, records ...*domain.TrackingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, rec := range records {
		rec.Version++
		key := recordKey{rec.ClanTag, rec.Kind}
		if rec.IsActive {
			r.active[key] = rec.Clone()
		} else if cur, ok := r.active[key]; ok && cur.ID == rec.ID {
			delete(r.active, key)
		}
	}
	return nil
}

func TestRecordsCachesReads(t *testing.T) {
	repo := newCountingRepo()
	records := NewRecords(repo)
	ctx := context.Background()

	_, err := records.Active(ctx, "#AAA", domain.KindWar)
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
	_, err = records.Active(ctx, "#AAA", domain.KindWar)
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.Equal(t, 1, repo.gets, "known absence is cached")

	rec := &domain.TrackingRecord{ID: "r1", ClanTag: "#AAA", Kind: domain.KindWar, IsActive: true, ExternalID: "E1"}
	require.NoError(t, records.Commit(ctx, rec))

	got, err := records.Active(ctx, "#AAA", domain.KindWar)
	require.NoError(t, err)
	assert.Equal(t, "E1", got.ExternalID)
	assert.Equal(t, 1, repo.gets)

	// callers get private copies
	got.ExternalID = "mutated"
	again, err := records.Active(ctx, "#AAA", domain.KindWar)
	require.NoError(t, err)
	assert.Equal(t, "E1", again.ExternalID)
}

func TestRecordsSupersedeInOneCommit(t *testing.T) {
	repo := newCountingRepo()
	records := NewRecords(repo)
	ctx := context.Background()

	old := &domain.TrackingRecord{ID: "r1", ClanTag: "#AAA", Kind: domain.KindWar, IsActive: true, ExternalID: "E1"}
	require.NoError(t, records.Commit(ctx, old))

	old.IsActive = false
	next := &domain.TrackingRecord{ID: "r2", ClanTag: "#AAA", Kind: domain.KindWar, IsActive: true, ExternalID: "E2"}
	require.NoError(t, records.Commit(ctx, next, old))

	got, err := records.Active(ctx, "#AAA", domain.KindWar)
	require.NoError(t, err)
	assert.Equal(t, "E2", got.ExternalID)
}

func TestRecordsCommitErrorInvalidates(t *testing.T) {
	repo := newCountingRepo()
	records := NewRecords(repo)
	ctx := context.Background()

	rec := &domain.TrackingRecord{ID: "r1", ClanTag: "#AAA", Kind: domain.KindCWL, IsActive: true}
	require.NoError(t, records.Commit(ctx, rec))

	repo.commitErr = domain.ErrPersistenceConflict
	require.ErrorIs(t, records.Commit(ctx, rec), domain.ErrPersistenceConflict)

	_, err := records.Active(ctx, "#AAA", domain.KindCWL)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets, "the failed key is re-read from the store")
}

func TestRecordsWarm(t *testing.T) {
	repo := newCountingRepo()
	repo.active[recordKey{"#AAA", domain.KindWar}] = &domain.TrackingRecord{ID: "r1", ClanTag: "#AAA", Kind: domain.KindWar, IsActive: true}
	repo.active[recordKey{"#BBB", domain.KindCapital}] = &domain.TrackingRecord{ID: "r2", ClanTag: "#BBB", Kind: domain.KindCapital, IsActive: true}
	records := NewRecords(repo)

	warmed, err := records.Warm(context.Background())
	require.NoError(t, err)
	assert.Len(t, warmed, 2)

	_, err = records.Active(context.Background(), "#BBB", domain.KindCapital)
	require.NoError(t, err)
	assert.Zero(t, repo.gets)
}

func TestDeliveriesDedup(t *testing.T) {
	notifier := &recordingNotifier{}
	d, err := NewDeliveries(&config.Config{DeliveryCacheSize: 2}, notifier, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	started := domain.EpisodeStarted(domain.KindWar, "E1", domain.PhasePreparation)
	phase := domain.PhaseChanged(domain.KindWar, "E1", 0, domain.PhasePreparation, domain.PhaseBattle)
	other := domain.EpisodeStarted(domain.KindWar, "E2", domain.PhasePreparation)

	assert.True(t, d.Deliver(ctx, notify.Notification{Event: started}))
	assert.False(t, d.Deliver(ctx, notify.Notification{Event: started}))
	assert.True(t, d.Deliver(ctx, notify.Notification{Event: phase}))

	// a failing notifier still consumes the identity
	notifier.fails = true
	assert.True(t, d.Deliver(ctx, notify.Notification{Event: other}))
	assert.False(t, d.Deliver(ctx, notify.Notification{Event: other}))

	// the bounded set has evicted the oldest identity
	notifier.fails = false
	assert.True(t, d.Deliver(ctx, notify.Notification{Event: started}))

	assert.Len(t, notifier.sent, 4)
}

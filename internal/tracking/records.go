package tracking

import (
	"context"
	"errors"
	"sync"

	"clan-tracker/internal/domain"
)

type RecordRepository interface {
	GetActive(ctx context.Context, clanTag string, kind domain.Kind) (*domain.TrackingRecord, error)
	ListActive(ctx context.Context) ([]*domain.TrackingRecord, error)
	Commit(ctx context.Context, records ...*domain.TrackingRecord) error
}

type recordKey struct {
	clanTag string
	kind    domain.Kind
}

// Records is a write-through cache of active tracking records. The store is
// always written before the cache; callers get and commit private copies.
type Records struct {
	repo RecordRepository

	mu sync.RWMutex
	// a nil entry means the store has no active record for the key
	active map[recordKey]*domain.TrackingRecord
}

func NewRecords(repo RecordRepository) *Records {
	return &Records{
		repo:   repo,
		active: make(map[recordKey]*domain.TrackingRecord),
	}
}

// Active returns a copy of the active record or domain.ErrRecordNotFound.
func (c *Records) Active(ctx context.Context, clanTag string, kind domain.Kind) (*domain.TrackingRecord, error) {
	key := recordKey{clanTag: clanTag, kind: kind}

	c.mu.RLock()
	rec, ok := c.active[key]
	c.mu.RUnlock()
	if ok {
		if rec == nil {
			return nil, domain.ErrRecordNotFound
		}
		return rec.Clone(), nil
	}

	rec, err := c.repo.GetActive(ctx, clanTag, kind)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}

	c.mu.Lock()
	// a commit that raced the read already holds a newer value
	if _, ok := c.active[key]; !ok {
		c.active[key] = rec.Clone()
	}
	c.mu.Unlock()

	if rec == nil {
		return nil, domain.ErrRecordNotFound
	}
	return rec, nil
}

// Commit persists records in one transaction and then updates the cache.
// On any error the affected keys are dropped so the next read hits the store.
func (c *Records) Commit(ctx context.Context, records ...*domain.TrackingRecord) error {
	if err := c.repo.Commit(ctx, records...); err != nil {
		for _, rec := range records {
			c.Invalidate(rec.ClanTag, rec.Kind)
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		if rec.IsActive {
			continue
		}
		key := recordKey{clanTag: rec.ClanTag, kind: rec.Kind}
		if cached, ok := c.active[key]; !ok || cached == nil || cached.ID == rec.ID {
			c.active[key] = nil
		}
	}
	for _, rec := range records {
		if rec.IsActive {
			c.active[recordKey{clanTag: rec.ClanTag, kind: rec.Kind}] = rec.Clone()
		}
	}
	return nil
}

func (c *Records) Invalidate(clanTag string, kind domain.Kind) {
	c.mu.Lock()
	delete(c.active, recordKey{clanTag: clanTag, kind: kind})
	c.mu.Unlock()
}

// Warm loads every active record into the cache and returns copies of them.
func (c *Records) Warm(ctx context.Context) ([]*domain.TrackingRecord, error) {
	records, err := c.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.TrackingRecord, 0, len(records))
	for _, rec := range records {
		c.active[recordKey{clanTag: rec.ClanTag, kind: rec.Kind}] = rec.Clone()
		out = append(out, rec)
	}
	return out, nil
}

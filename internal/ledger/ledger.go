package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"clan-tracker/internal/constants"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/metrics"

	"github.com/rs/zerolog"
)

// RecordStore is the record cache the ledger reads and writes through.
type RecordStore interface {
	Active(ctx context.Context, clanTag string, kind domain.Kind) (*domain.TrackingRecord, error)
	Commit(ctx context.Context, records ...*domain.TrackingRecord) error
}

// Ledger serializes base calls per clan and persists them on the active war
// record.
type Ledger struct {
	records RecordStore
	locks   *keyedMutex
	logger  zerolog.Logger
	now     func() time.Time
}

func NewLedger(records RecordStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		records: records,
		locks:   newKeyedMutex(),
		logger:  logger.With().Str("component", "ledger").Logger(),
		now:     time.Now,
	}
}

func (l *Ledger) Call(ctx context.Context, clanTag string, base int, ownerID, note string) (domain.Reservation, error) {
	var res domain.Reservation
	err := l.mutate(ctx, clanTag, func(rec *domain.TrackingRecord) (bool, error) {
		var (
			changed bool
			err     error
		)
		res, changed, err = Call(rec, base, ownerID, note, l.now())
		return changed, err
	})
	observe("call", err)
	if err != nil {
		return res, err
	}

	l.logger.Info().
		Str("clan_tag", clanTag).
		Int("base", base).
		Str("owner", ownerID).
		Bool("fulfilled", res.Fulfilled).
		Msg("base called")
	return res, nil
}

func (l *Ledger) Uncall(ctx context.Context, clanTag string, base int, ownerID string) error {
	err := l.mutate(ctx, clanTag, func(rec *domain.TrackingRecord) (bool, error) {
		return true, Uncall(rec, base, ownerID)
	})
	observe("uncall", err)
	if err != nil {
		return err
	}

	l.logger.Info().
		Str("clan_tag", clanTag).
		Int("base", base).
		Str("owner", ownerID).
		Msg("base uncalled")
	return nil
}

// List returns the active war's reservations ordered by base number.
func (l *Ledger) List(ctx context.Context, clanTag string) ([]domain.Reservation, error) {
	rec, err := l.active(ctx, clanTag)
	if err != nil {
		return nil, err
	}
	out := append([]domain.Reservation(nil), rec.Reservations...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BaseNumber < out[j].BaseNumber
	})
	return out, nil
}

func (l *Ledger) active(ctx context.Context, clanTag string) (*domain.TrackingRecord, error) {
	rec, err := l.records.Active(ctx, clanTag, domain.KindWar)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", clanTag, domain.ErrNoActiveWar)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// mutate runs fn against a fresh copy of the active war record and commits
// it if fn reports a change. A write conflict with the reconciler is retried
// with a fresh read.
func (l *Ledger) mutate(ctx context.Context, clanTag string, fn func(*domain.TrackingRecord) (bool, error)) error {
	unlock := l.locks.Lock(clanTag)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt <= constants.PersistenceRetries; attempt++ {
		var rec *domain.TrackingRecord
		rec, err = l.active(ctx, clanTag)
		if err != nil {
			return err
		}

		changed, ferr := fn(rec)
		if ferr != nil {
			return ferr
		}
		if !changed {
			return nil
		}

		err = l.records.Commit(ctx, rec)
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			return err
		}
		metrics.PersistenceConflictsTotal.WithLabelValues(string(domain.KindWar)).Inc()
		l.logger.Warn().Err(err).Str("clan_tag", clanTag).Int("attempt", attempt+1).Msg("reservation write conflicted, retrying")
	}
	return err
}

func observe(action string, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case domain.IsReservationConflict(err):
		result = metrics.ResultConflict
	case errors.Is(err, domain.ErrNoActiveWar):
		result = metrics.ResultNotFound
	default:
		result = metrics.ResultError
	}
	metrics.ReservationsTotal.WithLabelValues(action, result).Inc()
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

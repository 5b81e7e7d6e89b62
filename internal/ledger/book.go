package ledger

import (
	"fmt"
	"time"

	"clan-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// The functions in this file mutate the reservations of one war record in
// place. Callers own the record for the duration of the call.

func validBase(rec *domain.TrackingRecord, base int) bool {
	if base < 1 {
		return false
	}
	return rec.TeamSize == 0 || base <= rec.TeamSize
}

func openReservation(rec *domain.TrackingRecord, base int) int {
	for i, res := range rec.Reservations {
		if res.BaseNumber == base && !res.Fulfilled {
			return i
		}
	}
	return -1
}

// Call reserves base for owner. A repeated call by the same owner only
// replaces the note. A base that was already hit is fulfilled on the spot
// with its best attack. changed is false when the record was left untouched.
func Call(rec *domain.TrackingRecord, base int, ownerID, note string, now time.Time) (res domain.Reservation, changed bool, err error) {
	if !validBase(rec, base) {
		return domain.Reservation{}, false, fmt.Errorf("base %d of %d: %w", base, rec.TeamSize, domain.ErrInvalidBase)
	}

	if i := openReservation(rec, base); i >= 0 {
		existing := &rec.Reservations[i]
		if existing.OwnerID != ownerID {
			return *existing, false, &domain.ReservationError{
				Code:       domain.ErrAlreadyReserved,
				BaseNumber: base,
				OwnerID:    existing.OwnerID,
			}
		}
		if existing.Note == note {
			return *existing, false, nil
		}
		existing.Note = note
		return *existing, true, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("failed to generate nanoid: %w", err)
	}
	res = domain.Reservation{
		ID:         id,
		BaseNumber: base,
		OwnerID:    ownerID,
		Note:       note,
		ReservedAt: now.UTC(),
	}
	if best, ok := BestResult(rec, base); ok {
		res.Fulfilled = true
		res.Result = &best
	}
	rec.Reservations = append(rec.Reservations, res)
	return res, true, nil
}

// Uncall deletes the open reservation on base. Fulfilled reservations are
// history and cannot be removed.
func Uncall(rec *domain.TrackingRecord, base int, ownerID string) error {
	i := openReservation(rec, base)
	if i < 0 {
		return &domain.ReservationError{Code: domain.ErrReservationNotFound, BaseNumber: base}
	}
	if owner := rec.Reservations[i].OwnerID; owner != ownerID {
		return &domain.ReservationError{Code: domain.ErrNotOwner, BaseNumber: base, OwnerID: owner}
	}
	rec.Reservations = append(rec.Reservations[:i], rec.Reservations[i+1:]...)
	return nil
}

// MarkFulfilled records result against base. It reports the reservation and
// whether it flipped from open to fulfilled on this call. Already fulfilled
// reservations on base only have their result raised when result beats it.
func MarkFulfilled(rec *domain.TrackingRecord, base int, result domain.AttackResult) (domain.Reservation, bool) {
	if i := openReservation(rec, base); i >= 0 {
		res := &rec.Reservations[i]
		res.Fulfilled = true
		r := result
		res.Result = &r
		return *res, true
	}

	var last *domain.Reservation
	for i := range rec.Reservations {
		res := &rec.Reservations[i]
		if res.BaseNumber != base || !res.Fulfilled {
			continue
		}
		if res.Result == nil || result.Beats(*res.Result) {
			r := result
			res.Result = &r
		}
		last = res
	}
	if last == nil {
		return domain.Reservation{}, false
	}
	return *last, false
}

// BestResult is the best attack logged against base: stars first, then
// destruction, then the earliest attack. ok is false when base was never hit.
func BestResult(rec *domain.TrackingRecord, base int) (best domain.AttackResult, ok bool) {
	for _, a := range rec.AttackLog {
		if a.DefenderPosition != base {
			continue
		}
		if r := a.Result(); !ok || r.Beats(best) {
			best, ok = r, true
		}
	}
	return best, ok
}

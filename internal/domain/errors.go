package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEpisodeNotFound is the remote API's authoritative "no such episode"
	// answer. It is the only fetch outcome allowed to end an episode.
	ErrEpisodeNotFound = errors.New("episode not found")

	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrRecordNotFound      = errors.New("tracking record not found")
	ErrClanNotFound        = errors.New("clan not found")

	ErrAlreadyReserved     = errors.New("base already reserved")
	ErrNotOwner            = errors.New("reservation belongs to another owner")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrNoActiveWar         = errors.New("no active war")
	ErrInvalidBase         = errors.New("invalid base number")
)

// TransientFetchError wraps a network, timeout, rate-limit or unexpected
// status failure. The poll is retried next cycle with no state change.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error (%s): %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientFetchError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var target *TransientFetchError
	return errors.As(err, &target)
}

// ReservationError is returned synchronously to the command layer. Code is one
// of ErrAlreadyReserved, ErrNotOwner or ErrReservationNotFound.
type ReservationError struct {
	Code       error
	BaseNumber int
	OwnerID    string
}

func (e *ReservationError) Error() string {
	if e.OwnerID != "" {
		return fmt.Sprintf("base %d: %v (owner %s)", e.BaseNumber, e.Code, e.OwnerID)
	}
	return fmt.Sprintf("base %d: %v", e.BaseNumber, e.Code)
}

func (e *ReservationError) Unwrap() error {
	return e.Code
}

func IsReservationConflict(err error) bool {
	var target *ReservationError
	return errors.As(err, &target)
}

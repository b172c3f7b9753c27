package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInactivePool      = errors.New("pool is not active")
	ErrInvalidCollateral = errors.New("invalid collateral")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
)

// PoolError ties a registry failure to the pool it concerns. Error renders the
// message returned to API clients; Unwrap exposes the sentinel for errors.Is.
type PoolError struct {
	Op     string
	PoolID string
	Err    error
}

func (e *PoolError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return fmt.Sprintf("Pool '%s' not found", e.PoolID)
	case errors.Is(e.Err, ErrAlreadyExists):
		return fmt.Sprintf("Pool '%s' already exists", e.PoolID)
	case errors.Is(e.Err, ErrInactivePool):
		return fmt.Sprintf("Pool '%s' is not active. Cannot add collateral.", e.PoolID)
	case errors.Is(e.Err, ErrInvalidCollateral):
		return fmt.Sprintf("Pool '%s': %s", e.PoolID, e.Err.Error())
	default:
		return e.Err.Error()
	}
}

func (e *PoolError) Unwrap() error { return e.Err }

// NewPoolError wraps sentinel for the given operation and pool.
func NewPoolError(op, poolID string, sentinel error) error {
	return &PoolError{Op: op, PoolID: poolID, Err: sentinel}
}

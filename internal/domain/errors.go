package domain

import "errors"

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrAccountExists       = errors.New("account already exists")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotOwner            = errors.New("order belongs to another account")
	ErrAlreadyFilled       = errors.New("order already filled")
	ErrAlreadyCancelled    = errors.New("order already cancelled")
	ErrBookHalted          = errors.New("order book halted")
	ErrInvariantViolation  = errors.New("ledger invariant violated")
	ErrDegradedDurability  = errors.New("state applied but not persisted")
)

// DurabilityError wraps a journal failure that happened after the in-memory
// state transition was already applied.
type DurabilityError struct {
	Err error
}

func (e *DurabilityError) Error() string {
	return ErrDegradedDurability.Error() + ": " + e.Err.Error()
}

func (e *DurabilityError) Unwrap() error { return e.Err }

func (e *DurabilityError) Is(target error) bool { return target == ErrDegradedDurability }

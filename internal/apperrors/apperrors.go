// Package apperrors defines the error taxonomy shared across the
// coordination core. Callers classify failures with errors.Is/As.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers malformed input and illegal state transitions.
	// Terminal for the call; never retried automatically.
	ErrValidation = errors.New("validation error")

	// ErrConflict means the caller lost a race, e.g. the order was already
	// accepted by another driver.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExternalService wraps routing/geocoding/object-storage failures.
	ErrExternalService = errors.New("external service unavailable")

	// ErrChannel wraps message-bus subscribe/publish failures.
	ErrChannel = errors.New("channel error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// InsufficientBalanceError reports a wallet too short to cover a commission
// debit. It carries the exact shortfall so the driver can be told how much
// to top up.
type InsufficientBalanceError struct {
	DriverID      string
	BalanceCents  int64
	RequiredCents int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: driver %s has %d, needs %d (short %d)",
		e.DriverID, e.BalanceCents, e.RequiredCents, e.ShortfallCents())
}

func (e *InsufficientBalanceError) ShortfallCents() int64 {
	return e.RequiredCents - e.BalanceCents
}

// External wraps err as an ExternalServiceError for the named collaborator.
func External(service string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalService, service, err)
}

// Channel wraps err as a ChannelError for the named topic.
func Channel(topic string, err error) error {
	return fmt.Errorf("%w: topic %s: %v", ErrChannel, topic, err)
}

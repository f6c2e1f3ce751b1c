package reconcile

import "errors"

var (
	// ErrInvalidEvent is returned for events that can never be reconciled as sent.
	ErrInvalidEvent = errors.New("invalid payment event")
	// ErrParticipationLookup wraps store failures other than a missing participation.
	ErrParticipationLookup = errors.New("participation lookup failed")
	// ErrPersistence wraps write and commit failures. Nothing of the event is persisted.
	ErrPersistence = errors.New("ledger persistence failed")

	// ErrParticipationNotFound is returned by a Tx when the participation does not exist.
	ErrParticipationNotFound = errors.New("participation not found")
	// ErrReferenceClaimed is returned by a Tx when the gateway reference was already reconciled.
	ErrReferenceClaimed = errors.New("gateway reference already processed")
)

// Transient reports whether err should be retried by the sender.
func Transient(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidEvent)
}

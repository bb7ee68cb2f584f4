package scheduling

import "errors"

var (
	// ErrInvalidWindow is returned when a request window is missing, reversed
	// or longer than the configured maximum.
	ErrInvalidWindow = errors.New("invalid schedule window")

	ErrInvalidContext = errors.New("invalid schedule context")

	// ErrInvalidBatch rejects an update batch wholesale.
	ErrInvalidBatch       = errors.New("invalid update batch")
	ErrClientDataTooLarge = errors.New("client data exceeds quota")

	ErrNotFound = errors.New("scheduled activity not found")
)

package domain

import "errors"

// ErrorKind is the closed taxonomy failures are classified into.
type ErrorKind string

const (
	ErrKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrKindAuthRequired      ErrorKind = "auth_required"
	ErrKindContentFiltered   ErrorKind = "content_filtered"
	ErrKindMissingResult     ErrorKind = "missing_result"
	ErrKindNetwork           ErrorKind = "network"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindGeneric           ErrorKind = "generic_failure"
)

var (
	ErrClientNotReady      = errors.New("rendering client not initialized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNoActiveProject     = errors.New("no active project")
	ErrSlotNotRetryable    = errors.New("slot is not retryable")
	ErrSourceUnavailable   = errors.New("source image no longer available")
	ErrNotFound            = errors.New("not found")
)

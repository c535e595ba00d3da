// Package domain defines the core entities of the batch pipeline and their errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPayload is returned when a work payload is missing, of an
	// unknown kind, or fails its field rules.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidBatchStatus is returned when a batch status is not valid.
	ErrInvalidBatchStatus = errors.New("invalid batch status")

	// ErrInvalidTransition is returned when a batch update would move the
	// batch backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid batch status transition")

	// ErrBatchSize is returned when a batch has no members or more members
	// than allowed.
	ErrBatchSize = errors.New("invalid batch size")
)

// Failure reasons recorded on batches and sent to subscribers.
const (
	ReasonBudgetExceeded   = "budget-exceeded"
	ReasonBackendTransient = "backend-transient"
	ReasonBackendPermanent = "backend-permanent"
	ReasonPollTimeout      = "poll-timeout"
	ReasonStoreUnavailable = "store-unavailable"
	ReasonMissingResult    = "missing-result"
	ReasonShutdown         = "shutdown"
)

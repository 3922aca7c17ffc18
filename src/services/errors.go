package services

import "errors"

var (
	// ErrValidation covers malformed or out-of-range user input.
	ErrValidation = errors.New("validation failed")
	// ErrUnmatchedAccount means the receipt's receiving account could not be
	// matched to any configured account above the accept threshold.
	ErrUnmatchedAccount = errors.New("receiving account does not match any configured account")
	// ErrAmountMismatch means the counter receipt amount differs from the
	// expected amount by more than the configured tolerance.
	ErrAmountMismatch = errors.New("receipt amount does not match expected amount")
	// ErrRetryExhausted means an external call failed on every attempt.
	ErrRetryExhausted = errors.New("all retry attempts failed")
	// ErrNoActiveSession means the user has no exchange in progress.
	ErrNoActiveSession = errors.New("no active exchange session")
	// ErrSessionStep means the input does not fit the session's current step.
	ErrSessionStep = errors.New("unexpected input for current session step")
)

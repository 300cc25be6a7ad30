package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by every missing-record error (batch, user, cycle, selection, token).
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition matches any *TransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid payout status transition")
	// ErrSuppressed marks a recipient on the suppression list.
	ErrSuppressed = errors.New("suppressed")
	// ErrSelectionSealed rejects reward or tier changes after sealing.
	ErrSelectionSealed = errors.New("selection is sealed; reward amount and tier are immutable")
	// ErrDuplicateUser is returned when the email or username is already taken.
	ErrDuplicateUser      = errors.New("email or username already exists")
	ErrTokenAlreadyUsed   = errors.New("verification token already used")
	ErrTokenExpired       = errors.New("verification token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email address not verified")
)

// ValidationError describes bad input shape.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransitionError is the InvalidTransition case of the error taxonomy.
type TransitionError struct {
	From PayoutStatus
	To   PayoutStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid payout status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// EmailError is the InvalidEmail case. Code is one of empty, too-long, format, disposable.
type EmailError struct {
	Code string
}

func (e *EmailError) Error() string {
	return "invalid-email:" + e.Code
}

// ProviderError wraps a failure at a third-party boundary (email or payout provider).
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrDuplicateReference = errors.New("duplicate_reference")
	ErrInvalidThreshold   = errors.New("invalid_threshold")
	ErrInvalidGracePeriod = errors.New("invalid_grace_period")
	ErrSelfTransfer       = errors.New("self_transfer")
)

// InsufficientCreditsError reports a refused debit. No state was changed.
type InsufficientCreditsError struct {
	CurrentCredits int64
	Required       int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: have %d, need %d", e.CurrentCredits, e.Required)
}

func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var target *InsufficientCreditsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// InsufficientPoolError reports a transfer larger than the sender's balance. No state was changed.
type InsufficientPoolError struct {
	Available int64
	Requested int64
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("insufficient_pool: available %d, requested %d", e.Available, e.Requested)
}

func IsInsufficientPool(err error) (*InsufficientPoolError, bool) {
	var target *InsufficientPoolError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

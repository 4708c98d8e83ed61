package domain

import "errors"

// Named failure conditions shared across the protocol services. Services wrap
// these with fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientMargin  = errors.New("insufficient margin")
	ErrWouldExceedLimit    = errors.New("would exceed limit")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrLeverageTooHigh     = errors.New("leverage too high")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrPaused              = errors.New("component paused")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrLockNotExpired      = errors.New("lock not expired")
	ErrHoldingPeriod       = errors.New("holding period not met")
	ErrVotingClosed        = errors.New("voting closed")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrTimelockPending     = errors.New("timelock delay not elapsed")
	ErrCommitmentInvalid   = errors.New("liquidation commitment invalid")
	ErrPositionHealthy     = errors.New("position above liquidation threshold")
)

package service

import "time"

// Vote-escrow math for QTI locks. Locking for the maximum duration gives 4x
// the locked amount as initial voting power; the minimum gives just over 1x.
// Power decays linearly and reaches zero when the lock expires.

const (
	MinLockDuration = 7 * 24 * time.Hour
	MaxLockDuration = 4 * 365 * 24 * time.Hour

	maxVeMultiplier = 4.0
)

// LockMultiplier maps a lock duration to the initial voting power multiplier,
// linear between 1x at zero and 4x at MaxLockDuration.
func LockMultiplier(duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	if duration > MaxLockDuration {
		duration = MaxLockDuration
	}
	return 1 + (maxVeMultiplier-1)*float64(duration)/float64(MaxLockDuration)
}

// InitialVotingPower is the escrowed power granted at lock time.
func InitialVotingPower(amount float64, duration time.Duration) float64 {
	return amount * LockMultiplier(duration)
}

// DecayedPower is the voting power of a lock at time `at` (unix ms): the
// initial power scaled by remaining lock time.
func DecayedPower(initialPower float64, startMs, endMs, atMs int64) float64 {
	if atMs >= endMs || endMs <= startMs {
		return 0
	}
	if atMs <= startMs {
		return initialPower
	}
	remaining := float64(endMs-atMs) / float64(endMs-startMs)
	return initialPower * remaining
}

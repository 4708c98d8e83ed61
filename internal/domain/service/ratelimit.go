package service

import (
	"fmt"
	"sync"
	"time"

	"quantillon/internal/domain"
)

// RateLimiter enforces per-operation amount caps over a fixed window
// (hourly mint/redeem caps). The window restarts once it has fully elapsed.
type RateLimiter struct {
	mu sync.Mutex

	window  time.Duration
	caps    map[string]float64 // op -> max amount per window
	used    map[string]float64
	started map[string]time.Time

	now func() time.Time // test hook
}

func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:  window,
		caps:    make(map[string]float64),
		used:    make(map[string]float64),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetCap sets the per-window cap for an operation. 0 disables the limit.
func (r *RateLimiter) SetCap(op string, cap float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[op] = cap
}

// Allow consumes `amount` from the op's window, or rejects the whole amount
// if it would push usage over the cap.
func (r *RateLimiter) Allow(op string, amount float64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cap := r.caps[op]
	if cap <= 0 {
		return nil
	}

	now := r.now()
	if start, ok := r.started[op]; !ok || now.Sub(start) >= r.window {
		r.started[op] = now
		r.used[op] = 0
	}

	if r.used[op]+amount > cap {
		return fmt.Errorf("%s rate limit: used %.2f + %.2f over cap %.2f per %s: %w",
			op, r.used[op], amount, cap, r.window, domain.ErrWouldExceedLimit)
	}
	r.used[op] += amount
	return nil
}

// Remaining reports how much of the op's cap is left in the current window.
func (r *RateLimiter) Remaining(op string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := r.caps[op]
	if cap <= 0 {
		return 0
	}
	if start, ok := r.started[op]; !ok || r.now().Sub(start) >= r.window {
		return cap
	}
	left := cap - r.used[op]
	if left < 0 {
		return 0
	}
	return left
}

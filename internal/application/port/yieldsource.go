package port

import "context"

// YieldSource is an external venue reserves can be deployed to for yield.
type YieldSource interface {
	Name() string
	// Supply moves amount into the source.
	Supply(ctx context.Context, amount float64) error
	// Withdraw pulls up to amount back out and returns what was actually withdrawn.
	Withdraw(ctx context.Context, amount float64) (float64, error)
	// Balance reports principal plus accrued interest currently held.
	Balance(ctx context.Context) (float64, error)
	// APY is the current annualized rate, in basis points.
	APY() int64
}

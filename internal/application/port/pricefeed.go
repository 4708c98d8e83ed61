package port

import "context"

// Pairs the protocol oracle tracks.
const (
	PairEURUSD  = "EURUSD"
	PairUSDCUSD = "USDCUSD"
)

type Tick struct {
	Source   string  // feed name "BINANCE" "BYBIT"
	Pair     string  // "EURUSD"
	PriceStr string  // raw string
	PriceNum float64 // parsed float64 (best-effort)
	Ts       int64   // unix ms
}

type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, pairs []string) (<-chan Tick, error)
}

package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"quantillon/internal/application/port"
	"quantillon/internal/domain"
	domainservice "quantillon/internal/domain/service"

	"github.com/rs/zerolog/log"
)

// Hard price bounds per pair. A tick outside these is feed garbage, not a
// market move, and is dropped before it can touch the median.
type priceBounds struct {
	min, max float64
}

var pairBounds = map[string]priceBounds{
	port.PairEURUSD:  {min: 0.50, max: 2.00},
	port.PairUSDCUSD: {min: 0.95, max: 1.05},
}

type quote struct {
	price float64
	ts    int64 // unix ms
}

// Oracle aggregates ticks from multiple feeds into a median price per pair.
// It rejects out-of-bounds and stale quotes, and trips a circuit breaker when
// the median jumps more than the configured deviation in one step. While the
// breaker is tripped every price read fails, which halts mint, redeem and
// liquidation until the emergency role resets it.
type Oracle struct {
	mu sync.RWMutex

	params *domainservice.ParamStore
	quotes map[string]map[string]quote // pair -> source -> last quote
	last   map[string]float64          // pair -> last accepted median

	tripped bool
	reason  string

	now func() time.Time // test hook
}

func NewOracle(params *domainservice.ParamStore) *Oracle {
	return &Oracle{
		params: params,
		quotes: make(map[string]map[string]quote),
		last:   make(map[string]float64),
		now:    time.Now,
	}
}

// Apply folds one tick into the aggregate. It returns true when the pair's
// median moved, so the caller can re-render or re-check positions.
func (o *Oracle) Apply(t port.Tick) bool {
	if t.PriceNum <= 0 {
		return false
	}
	b, ok := pairBounds[t.Pair]
	if !ok {
		return false
	}
	if t.PriceNum < b.min || t.PriceNum > b.max {
		log.Warn().Str("source", t.Source).Str("pair", t.Pair).
			Float64("price", t.PriceNum).Msg("tick outside bounds, dropped")
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.quotes[t.Pair] == nil {
		o.quotes[t.Pair] = make(map[string]quote)
	}
	o.quotes[t.Pair][t.Source] = quote{price: t.PriceNum, ts: t.Ts}

	med, ok := o.medianLocked(t.Pair)
	if !ok {
		return false
	}

	prev := o.last[t.Pair]
	if prev > 0 {
		devBps := int64(abs(med-prev) / prev * 10_000)
		if maxDev := o.params.GetBps(domainservice.ParamOracleMaxDevBps); maxDev > 0 && devBps > maxDev {
			if !o.tripped {
				o.tripped = true
				o.reason = fmt.Sprintf("%s moved %d bps in one update (limit %d)", t.Pair, devBps, maxDev)
				log.Error().Str("pair", t.Pair).Int64("deviation_bps", devBps).
					Int64("limit_bps", maxDev).Msg("oracle circuit breaker tripped")
			}
			return false
		}
	}

	changed := med != prev
	o.last[t.Pair] = med
	return changed
}

// medianLocked computes the median over quotes still inside the staleness
// window. Callers hold o.mu.
func (o *Oracle) medianLocked(pair string) (float64, bool) {
	staleMs := int64(o.params.Get(domainservice.ParamOracleStalenessSec)) * 1000
	cutoff := o.now().UnixMilli() - staleMs

	fresh := make([]float64, 0, len(o.quotes[pair]))
	for src, q := range o.quotes[pair] {
		if q.ts < cutoff {
			delete(o.quotes[pair], src)
			continue
		}
		fresh = append(fresh, q.price)
	}
	if len(fresh) == 0 {
		return 0, false
	}

	sort.Float64s(fresh)
	n := len(fresh)
	if n%2 == 1 {
		return fresh[n/2], true
	}
	return (fresh[n/2-1] + fresh[n/2]) / 2, true
}

// Price returns the current median for a pair, or ErrPriceUnavailable when
// the breaker is tripped or no fresh quote exists.
func (o *Oracle) Price(pair string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tripped {
		return 0, fmt.Errorf("circuit breaker: %s: %w", o.reason, domain.ErrPriceUnavailable)
	}
	med, ok := o.medianLocked(pair)
	if !ok {
		return 0, fmt.Errorf("no fresh %s quote: %w", pair, domain.ErrPriceUnavailable)
	}
	o.last[pair] = med
	return med, nil
}

// EurUsd is the EUR/USD median. Every pricing path in the protocol goes
// through here.
func (o *Oracle) EurUsd() (float64, error) {
	return o.Price(port.PairEURUSD)
}

// UsdcUsd is the USDC/USD median. Unlike EUR/USD a missing feed is not fatal:
// the pair defaults to parity, since USDC trades in a tight band and several
// venues never list it directly.
func (o *Oracle) UsdcUsd() (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tripped {
		return 0, fmt.Errorf("circuit breaker: %s: %w", o.reason, domain.ErrPriceUnavailable)
	}
	med, ok := o.medianLocked(port.PairUSDCUSD)
	if !ok {
		return 1.0, nil
	}
	o.last[port.PairUSDCUSD] = med
	return med, nil
}

// Tripped reports the breaker state and the reason it tripped.
func (o *Oracle) Tripped() (bool, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tripped, o.reason
}

// TripBreaker forces the circuit breaker open. Used by the emergency role to
// halt pricing ahead of a known-bad feed window.
func (o *Oracle) TripBreaker(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if reason == "" {
		reason = "manually tripped"
	}
	o.tripped = true
	o.reason = reason
	log.Error().Str("reason", reason).Msg("oracle circuit breaker tripped manually")
}

// ResetBreaker clears the circuit breaker and rebaselines the medians so the
// same jump does not immediately re-trip it.
func (o *Oracle) ResetBreaker() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.tripped = false
	o.reason = ""
	for pair := range o.quotes {
		if med, ok := o.medianLocked(pair); ok {
			o.last[pair] = med
		} else {
			delete(o.last, pair)
		}
	}
	log.Info().Msg("oracle circuit breaker reset")
}

// OracleStatus is the read-model for the status API.
type OracleStatus struct {
	EurUsd    float64        `json:"eur_usd,omitempty"`
	UsdcUsd   float64        `json:"usdc_usd"`
	Sources   map[string]int `json:"sources"` // pair -> fresh quote count
	Tripped   bool           `json:"breaker_tripped"`
	Reason    string         `json:"breaker_reason,omitempty"`
	Timestamp int64          `json:"ts_ms"`
}

func (o *Oracle) Status() OracleStatus {
	eur, _ := o.EurUsd()
	usdc, _ := o.UsdcUsd()

	o.mu.RLock()
	defer o.mu.RUnlock()
	st := OracleStatus{
		EurUsd:    eur,
		UsdcUsd:   usdc,
		Sources:   make(map[string]int, len(o.quotes)),
		Tripped:   o.tripped,
		Reason:    o.reason,
		Timestamp: o.now().UnixMilli(),
	}
	for pair, m := range o.quotes {
		st.Sources[pair] = len(m)
	}
	return st
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

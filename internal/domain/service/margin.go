package service

// Margin math for hedge positions. Positions are long EUR/USD: PnL follows
// the oracle price relative to entry.

// RequiredMargin is the USDC needed to carry a notional at a leverage.
func RequiredMargin(notional, leverage float64) float64 {
	if leverage <= 0 {
		return notional
	}
	return notional / leverage
}

// UnrealizedPnL marks a position of `notional` USD opened at `entry` to the
// current EUR/USD price.
func UnrealizedPnL(notional, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return notional * (price - entry) / entry
}

// MarginRatioBps is position equity over notional, in basis points.
// Equity below zero returns a negative ratio.
func MarginRatioBps(margin, notional, entry, price float64) int64 {
	if notional <= 0 {
		return 0
	}
	equity := margin + UnrealizedPnL(notional, entry, price)
	return int64(equity / notional * 10_000)
}

// LiquidationPrice is the EUR/USD price at which the margin ratio reaches
// thresholdBps. For a long position that price is below entry.
func LiquidationPrice(margin, notional, entry float64, thresholdBps int64) float64 {
	if notional <= 0 || entry <= 0 {
		return 0
	}
	// margin + notional*(p-entry)/entry == notional*threshold
	threshold := float64(thresholdBps) / 10_000
	return entry * (1 + threshold - margin/notional)
}

// BpsOf applies a basis-point rate to an amount.
func BpsOf(amount float64, bps int64) float64 {
	return amount * float64(bps) / 10_000
}

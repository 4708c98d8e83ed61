package service

// Spread is the signed gap between two feed quotes for the same pair.
func Spread(a, b float64) float64 {
	return a - b
}

// SpreadAlarm reports whether a cross-source spread is wide enough to
// question the feeds (pure decision).
func SpreadAlarm(spread, threshold float64) bool {
	if spread < 0 {
		spread = -spread
	}
	return threshold > 0 && spread >= threshold
}

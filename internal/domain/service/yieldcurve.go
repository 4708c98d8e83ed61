package service

// Yield shift curve: how much of incoming yield goes to the hedger pool as a
// function of the user/hedger pool size ratio. A user-heavy protocol needs to
// pay hedgers more to attract hedging capacity, and vice versa.

// IdealHedgerShareBps is linear in ratio/target around baseBps, clamped to
// [minBps, maxBps]. ratio <= 0 (empty hedger pool) pins the share at maxBps.
func IdealHedgerShareBps(ratio, targetRatio float64, baseBps, minBps, maxBps int64) int64 {
	if ratio <= 0 || targetRatio <= 0 {
		return maxBps
	}
	ideal := int64(float64(baseBps) * ratio / targetRatio)
	if ideal < minBps {
		return minBps
	}
	if ideal > maxBps {
		return maxBps
	}
	return ideal
}

// StepShiftBps moves the current share toward ideal by at most speedBps,
// so one update can never swing the distribution abruptly.
func StepShiftBps(current, ideal, speedBps int64) int64 {
	diff := ideal - current
	if diff > speedBps {
		diff = speedBps
	}
	if diff < -speedBps {
		diff = -speedBps
	}
	return current + diff
}

// TWAPUpdate advances a time-weighted average toward a spot value given the
// elapsed and averaging windows. elapsed >= window snaps to spot.
func TWAPUpdate(avg, spot float64, elapsedSec, windowSec int64) float64 {
	if windowSec <= 0 || elapsedSec >= windowSec {
		return spot
	}
	if elapsedSec <= 0 {
		return avg
	}
	w := float64(elapsedSec) / float64(windowSec)
	return avg*(1-w) + spot*w
}

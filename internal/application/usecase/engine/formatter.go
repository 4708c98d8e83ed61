package engine

import (
	"fmt"
	"sort"
	"strings"

	dsvc "quantillon/internal/domain/service"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

// sourceTag abbreviates a feed name for the one-line display.
func sourceTag(source string) string {
	switch source {
	case "BINANCE":
		return "B"
	case "BYBIT":
		return "Y"
	}
	if source == "" {
		return "?"
	}
	return source[:1]
}

type Formatter struct {
	SpreadThreshold float64
}

func NewFormatter(threshold float64) *Formatter {
	return &Formatter{SpreadThreshold: threshold}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

func (f *Formatter) Render(st *State, ps ProtocolStatus, mode RenderMode) string {
	snap := st.Snapshot()
	pairs := st.Pairs()

	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}

	sb.WriteString(colorize("[QNTL] ", ansiDim))

	for i, pair := range pairs {
		if i > 0 {
			sb.WriteString(colorize("  ||  ", ansiDim))
		}
		sb.WriteString(pair)

		srcs := snap[pair]
		for _, src := range sortedSources(srcs) {
			px := srcs[src]
			p := "--"
			if px.seen && px.str != "" {
				p = px.str
			}
			col := ansiYellow
			if px.parse {
				switch px.dir {
				case DirUp:
					col = ansiGreen
				case DirDown:
					col = ansiRed
				default:
					col = ansiYellow
				}
			}
			sb.WriteString(" ")
			sb.WriteString(colorize(sourceTag(src)+":"+p, col))
		}

		// widest gap between fresh sources
		spreadStr := "Δ=--"
		sCol := ansiDim
		if d, ok := st.Spread(pair); ok {
			spreadStr = fmt.Sprintf("Δ=%.5f", d)
			if dsvc.SpreadAlarm(d, f.SpreadThreshold) {
				sCol = ansiRed
			}
		} else {
			sCol = ansiYellow
		}
		sb.WriteString(" ")
		sb.WriteString(colorize(spreadStr, sCol))
	}

	sb.WriteString(colorize("  ||  ", ansiDim))
	sb.WriteString(renderProtocol(ps))

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

func renderProtocol(ps ProtocolStatus) string {
	var sb strings.Builder

	crCol := ansiGreen
	if !ps.Vault.IsCollateralized {
		crCol = ansiRed
	}
	sb.WriteString(colorize(fmt.Sprintf("CR:%.1f%%", ps.Vault.CollateralRatio*100), crCol))

	sb.WriteString(" ")
	sb.WriteString(fmt.Sprintf("U/H:%d/%d", ps.Yield.UserBps, ps.Yield.HedgerBps))

	sb.WriteString(" ")
	sb.WriteString(fmt.Sprintf("pos:%d", ps.Hedger.OpenPositions))

	if ps.Oracle.Tripped {
		sb.WriteString(" ")
		sb.WriteString(colorize("BREAKER", ansiRed))
	}
	return sb.String()
}

func sortedSources(m map[string]pxState) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

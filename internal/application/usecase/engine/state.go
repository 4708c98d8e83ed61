package engine

import (
	"strconv"
	"strings"
	"sync"

	"quantillon/internal/application/port"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

type pxState struct {
	str   string
	num   float64
	has   bool
	dir   Dir
	seen  bool
	parse bool
}

type pairState struct {
	sources map[string]*pxState // feed source -> last price state
}

// State tracks the last displayed price per pair and source, with the move
// direction relative to the previous tick. It exists purely for rendering;
// the oracle keeps its own aggregate.
type State struct {
	mu sync.Mutex

	order []string
	pairs map[string]*pairState
}

func NewState(pairs []string) *State {
	order := make([]string, 0, len(pairs))
	m := make(map[string]*pairState, len(pairs))
	for _, p := range pairs {
		u := strings.ToUpper(strings.TrimSpace(p))
		if u == "" {
			continue
		}
		order = append(order, u)
		m[u] = &pairState{sources: make(map[string]*pxState)}
	}
	return &State{order: order, pairs: m}
}

func (s *State) Pairs() []string {
	return s.order
}

// Apply folds one tick in and reports whether the display changed.
func (s *State) Apply(t port.Tick) bool {
	src := strings.ToUpper(strings.TrimSpace(t.Source))
	pair := strings.ToUpper(strings.TrimSpace(t.Pair))
	price := strings.TrimSpace(t.PriceStr)
	if price == "" && t.PriceNum > 0 {
		price = strconv.FormatFloat(t.PriceNum, 'f', -1, 64)
	}
	if pair == "" || price == "" || src == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.pairs[pair]
	if st == nil {
		return false
	}

	ps := st.sources[src]
	if ps == nil {
		ps = &pxState{}
		st.sources[src] = ps
	}

	if ps.str == price {
		ps.seen = true
		return false
	}

	ps.str = price
	ps.seen = true

	n, err := strconv.ParseFloat(price, 64)
	if err != nil {
		ps.parse = false
		ps.dir = DirSame
		return true
	}

	ps.parse = true
	if !ps.has {
		ps.has = true
		ps.num = n
		ps.dir = DirSame
		return true
	}

	prev := ps.num
	switch {
	case n > prev:
		ps.dir = DirUp
	case n < prev:
		ps.dir = DirDown
	default:
		ps.dir = DirSame
	}
	ps.num = n
	return true
}

// Snapshot copies the display state for lock-free rendering.
func (s *State) Snapshot() map[string]map[string]pxState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]pxState, len(s.pairs))
	for pair, st := range s.pairs {
		srcs := make(map[string]pxState, len(st.sources))
		for src, ps := range st.sources {
			srcs[src] = *ps
		}
		out[pair] = srcs
	}
	return out
}

// Spread is the widest gap between source prices for a pair. ok is false
// until at least two sources have parsed prices.
func (s *State) Spread(pair string) (float64, bool) {
	p := strings.ToUpper(strings.TrimSpace(pair))

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.pairs[p]
	if st == nil {
		return 0, false
	}
	lo, hi := 0.0, 0.0
	n := 0
	for _, ps := range st.sources {
		if !ps.parse || !ps.has {
			continue
		}
		if n == 0 || ps.num < lo {
			lo = ps.num
		}
		if n == 0 || ps.num > hi {
			hi = ps.num
		}
		n++
	}
	if n < 2 {
		return 0, false
	}
	return hi - lo, true
}

// Package proxy implements endpoint selection over registered pools.
package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/quarrio/quarry/types"
)

// Selector hands out endpoints from registered pools. Safe for
// concurrent use.
type Selector struct {
	mu    sync.Mutex
	pools map[string]*poolState
}

// poolState is the mutable rotation state of one pool. All access
// happens under the Selector lock.
type poolState struct {
	pool    *types.ProxyPool
	rrIndex int64
	sticky  map[string]*stickyEntry

	// Recency ring for the random strategy; nil unless the pool
	// configures a RecencyWindow. Slot value -1 means "empty", which
	// keeps endpoint index 0 distinguishable.
	ring    []int
	ringPos int
	ringLen int
}

type stickyEntry struct {
	endpointIdx int
	expiresAt   *time.Time
}

// NewSelector builds an empty selector.
func NewSelector() *Selector {
	return &Selector{pools: make(map[string]*poolState)}
}

// RegisterPool validates and registers a pool, printing its soft
// warnings to stderr.
func (s *Selector) RegisterPool(pool *types.ProxyPool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	for _, w := range pool.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	state := &poolState{
		pool:   pool,
		sticky: make(map[string]*stickyEntry),
	}
	if pool.RecencyWindow != nil {
		state.ring = make([]int, *pool.RecencyWindow)
		for i := range state.ring {
			state.ring[i] = -1
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Name] = state
	return nil
}

// SelectRequest parameterizes one selection.
type SelectRequest struct {
	// Pool names the pool to select from.
	Pool string
	// StrategyOverride, when set, replaces the pool's strategy.
	StrategyOverride *types.ProxyStrategy
	// StickyKey pins sticky selection explicitly; when empty the key
	// is derived from JobID/Domain/Origin per the pool's sticky scope.
	StickyKey string
	Domain    string
	Origin    string
	JobID     string
	// Commit advances rotation state. When false the call is a dry
	// run: it reports what would be selected without mutating.
	Commit bool
}

// Select picks an endpoint from the named pool.
func (s *Selector) Select(req SelectRequest) (*types.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[req.Pool]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", req.Pool)
	}

	strategy := state.pool.Strategy
	if req.StrategyOverride != nil {
		strategy = *req.StrategyOverride
	}

	var (
		idx int
		err error
	)
	switch strategy {
	case types.ProxyStrategyRoundRobin:
		idx = state.nextRoundRobin(req.Commit)
	case types.ProxyStrategyRandom:
		idx, err = state.nextRandom(req.Commit)
	case types.ProxyStrategySticky:
		idx, err = state.nextSticky(req)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	// Hand back a copy so callers cannot mutate pool state.
	ep := state.pool.Endpoints[idx]
	return &ep, nil
}

func (p *poolState) nextRoundRobin(commit bool) int {
	idx := int(p.rrIndex % int64(len(p.pool.Endpoints)))
	if commit {
		p.rrIndex++
	}
	return idx
}

// nextRandom picks uniformly, excluding recently used indices when a
// recency ring is configured. The ring only advances on commit.
func (p *poolState) nextRandom(commit bool) (int, error) {
	n := len(p.pool.Endpoints)
	if n == 1 {
		return 0, nil
	}
	if p.ring == nil {
		return randIndex(n)
	}

	used := make(map[int]bool, p.ringLen)
	for i := range p.ringLen {
		if idx := p.ring[i]; idx >= 0 {
			used[idx] = true
		}
	}
	candidates := make([]int, 0, n-len(used))
	for i := range n {
		if !used[i] {
			candidates = append(candidates, i)
		}
	}

	var idx int
	if len(candidates) == 0 {
		// Window covers every endpoint; fall back to the least
		// recently used, which sits at the next write position.
		idx = p.ring[p.ringPos]
	} else {
		ci, err := randIndex(len(candidates))
		if err != nil {
			return 0, err
		}
		idx = candidates[ci]
	}

	if commit {
		p.ring[p.ringPos] = idx
		p.ringPos = (p.ringPos + 1) % len(p.ring)
		if p.ringLen < len(p.ring) {
			p.ringLen++
		}
	}
	return idx, nil
}

// nextSticky resolves or creates a sticky assignment.
func (p *poolState) nextSticky(req SelectRequest) (int, error) {
	key := p.stickyKeyFor(req)
	if key == "" {
		return 0, errors.New("sticky selection requires a sticky key")
	}

	now := time.Now()
	if entry, ok := p.sticky[key]; ok {
		if entry.expiresAt == nil || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		delete(p.sticky, key)
	}

	// Fresh assignments draw randomly, but never advance the recency
	// ring: sticky persistence is its own mechanism.
	idx, err := p.nextRandom(false)
	if err != nil {
		return 0, err
	}

	if req.Commit {
		entry := &stickyEntry{endpointIdx: idx}
		if p.pool.Sticky != nil && p.pool.Sticky.TTLMs != nil {
			expires := now.Add(time.Duration(*p.pool.Sticky.TTLMs) * time.Millisecond)
			entry.expiresAt = &expires
		}
		p.sticky[key] = entry
	}
	return idx, nil
}

// stickyKeyFor derives the key: an explicit StickyKey wins, otherwise
// the pool's sticky scope picks among JobID, Domain, and Origin
// (defaulting to JobID).
func (p *poolState) stickyKeyFor(req SelectRequest) string {
	if req.StickyKey != "" {
		return req.StickyKey
	}
	if p.pool.Sticky == nil {
		return req.JobID
	}
	switch p.pool.Sticky.Scope {
	case types.ProxyStickyDomain:
		return req.Domain
	case types.ProxyStickyOrigin:
		return req.Origin
	default:
		return req.JobID
	}
}

// randIndex returns a cryptographically random int in [0, n).
func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(v.Int64()), nil
}

// PoolStats describes one pool's rotation state.
type PoolStats struct {
	RoundRobinIndex int64
	StickyEntries   int
	// RecencyWindow is the configured ring size (0 when unset);
	// RecencyFill is how many slots currently hold an index.
	RecencyWindow int
	RecencyFill   int
}

// Stats reports the named pool's rotation state.
func (s *Selector) Stats(poolName string) (*PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", poolName)
	}

	stats := &PoolStats{
		RoundRobinIndex: state.rrIndex,
		StickyEntries:   len(state.sticky),
	}
	if state.ring != nil {
		stats.RecencyWindow = len(state.ring)
		stats.RecencyFill = state.ringLen
	}
	return stats, nil
}

// CleanExpiredSticky drops expired sticky entries across all pools;
// call periodically to bound growth.
func (s *Selector) CleanExpiredSticky() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, state := range s.pools {
		for key, entry := range state.sticky {
			if entry.expiresAt != nil && entry.expiresAt.Before(now) {
				delete(state.sticky, key)
			}
		}
	}
}

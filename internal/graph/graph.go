package graph

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

// PoolGraph holds the known pool set. Pools are keyed by identity so a
// refreshed read replaces the previous entry for the same pool.
type PoolGraph struct {
	mu    sync.RWMutex
	pools map[string]model.Pool
}

func New(pools ...model.Pool) *PoolGraph {
	g := &PoolGraph{pools: make(map[string]model.Pool, len(pools))}
	for _, p := range pools {
		g.pools[p.ID()] = p
	}
	return g
}

// Upsert adds or replaces a pool by identity.
func (g *PoolGraph) Upsert(pool model.Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pools[pool.ID()] = pool
}

// Replace swaps the whole pool set for a fresh indexer read.
func (g *PoolGraph) Replace(pools []model.Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pools = make(map[string]model.Pool, len(pools))
	for _, p := range pools {
		g.pools[p.ID()] = p
	}
}

func (g *PoolGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pools)
}

// Pools returns a snapshot of the pool set.
func (g *PoolGraph) Pools() []model.Pool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Pool, 0, len(g.pools))
	for _, p := range g.pools {
		out = append(out, p)
	}
	return out
}

// PoolsByDeployer returns a snapshot restricted to the given pool
// variants. An empty filter returns everything.
func (g *PoolGraph) PoolsByDeployer(deployers ...common.Address) []model.Pool {
	if len(deployers) == 0 {
		return g.Pools()
	}
	allowed := make(map[common.Address]struct{}, len(deployers))
	for _, d := range deployers {
		allowed[d] = struct{}{}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Pool, 0, len(g.pools))
	for _, p := range g.pools {
		if _, ok := allowed[p.Deployer]; ok {
			out = append(out, p)
		}
	}
	return out
}

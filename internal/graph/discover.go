package graph

import (
	"github.com/ggonzalez94/swap-engine/internal/model"
)

// DefaultMaxHops bounds route enumeration. The candidate pool set is
// small enough that the exponential worst case never matters at this cap.
const DefaultMaxHops = 2

type searchFrame struct {
	current model.Token
	path    []model.Pool
}

// DiscoverRoutes enumerates simple paths from input to output over the
// given pools, visiting at most maxHops pools per route. Cycle avoidance
// is by pool identity, not struct equality. The result is always a fresh
// slice; an empty result means no path exists within the hop budget,
// which callers must distinguish from "pools not loaded yet" on their
// own. Routing from a token to itself yields no routes.
func DiscoverRoutes(input, output model.Token, pools []model.Pool, maxHops int) []model.Route {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	routes := make([]model.Route, 0)
	if input.Equal(output) || len(pools) == 0 {
		return routes
	}

	stack := []searchFrame{{current: input, path: nil}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, pool := range pools {
			if !pool.Involves(frame.current) {
				continue
			}
			if pathContains(frame.path, pool) {
				continue
			}
			next, ok := pool.OtherToken(frame.current)
			if !ok {
				continue
			}
			path := appendPath(frame.path, pool)
			if next.Equal(output) {
				routes = append(routes, model.Route{Pools: path, Input: input, Output: output})
				continue
			}
			if len(path) < maxHops {
				stack = append(stack, searchFrame{current: next, path: path})
			}
		}
	}
	return routes
}

func pathContains(path []model.Pool, pool model.Pool) bool {
	id := pool.ID()
	for _, p := range path {
		if p.ID() == id {
			return true
		}
	}
	return false
}

// appendPath copies before appending so sibling frames never alias one
// underlying array.
func appendPath(path []model.Pool, pool model.Pool) []model.Pool {
	out := make([]model.Pool, len(path), len(path)+1)
	copy(out, path)
	return append(out, pool)
}

package navigator

import (
	"sort"

	"github.com/driftframe/channelengine/types"
)

// OrderMode selects how top-level posts are sequenced for playback.
type OrderMode int

const (
	OrderServer OrderMode = iota
	OrderCreated
	OrderRandom
)

// BuildOrder computes the order_indices array (positions into ci) for mode.
// For OrderRandom, seed is effectively random pre-SNTP and deterministic
// post-SNTP (the caller's responsibility); globalSeed selects the PCG32
// stream so independent channels shuffle independently even with the same
// seed.
func BuildOrder(ci []types.Entry, mode OrderMode, seed, globalSeed uint64) []int {
	order := make([]int, len(ci))
	for i := range order {
		order[i] = i
	}
	switch mode {
	case OrderCreated:
		sort.SliceStable(order, func(a, b int) bool {
			return ci[order[a]].CreatedAt > ci[order[b]].CreatedAt
		})
	case OrderRandom:
		g := NewPCG32(seed^globalSeed, globalSeed)
		ShuffleFisherYates(order, g)
	case OrderServer:
		// identity, already built above
	}
	return order
}

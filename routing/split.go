package routing

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// SplitStrategy selects how a payment amount is partitioned across paths.
type SplitStrategy uint8

const (
	// SplitEqual divides the amount evenly across all paths.
	SplitEqual SplitStrategy = iota

	// SplitByCapacity weights each path's share by its route's
	// bottleneck capacity.
	SplitByCapacity

	// SplitRandom perturbs an even split with random jitter so that the
	// shard sizes don't betray the split policy to observers.
	SplitRandom
)

// String returns a human readable representation of the strategy.
func (s SplitStrategy) String() string {
	switch s {
	case SplitEqual:
		return "Equal"
	case SplitByCapacity:
		return "ByCapacity"
	case SplitRandom:
		return "Random"
	default:
		return fmt.Sprintf("SplitStrategy(%d)", s)
	}
}

// SplitPolicy describes how a payment may be sharded.
type SplitPolicy struct {
	// Strategy selects the partitioning rule.
	Strategy SplitStrategy

	// MaxParts caps the number of paths used. Zero means a single path.
	MaxParts int
}

// splitAmount partitions total across len(routes) shards according to the
// strategy. The shards always sum to exactly total; fees come on top and
// are checked separately.
func splitAmount(total uint64, routes []*Route,
	strategy SplitStrategy) ([]uint64, error) {

	n := len(routes)
	if n == 0 {
		return nil, ErrNoRoutes
	}
	if n == 1 {
		return []uint64{total}, nil
	}

	shards := make([]uint64, n)

	switch strategy {
	case SplitEqual:
		splitEven(total, shards)

	case SplitByCapacity:
		var totalCap uint64
		for _, route := range routes {
			totalCap += route.Capacity
		}
		if totalCap == 0 {
			splitEven(total, shards)
			break
		}

		var assigned uint64
		for i, route := range routes {
			shards[i] = total / totalCap * route.Capacity
			// Avoid overflow on large totals by splitting the
			// division: add the proportional remainder part.
			shards[i] += total % totalCap * route.Capacity /
				totalCap
			assigned += shards[i]
		}
		// Rounding dust goes to the largest shard.
		shards[maxShard(shards)] += total - assigned

	case SplitRandom:
		splitEven(total, shards)
		if err := jitterShards(shards); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown split strategy %v", strategy)
	}

	return shards, nil
}

// splitEven fills shards with an even division of total, pushing the
// remainder onto the first shard.
func splitEven(total uint64, shards []uint64) {
	n := uint64(len(shards))
	for i := range shards {
		shards[i] = total / n
	}
	shards[0] += total % n
}

// maxShard returns the index of the largest shard.
func maxShard(shards []uint64) int {
	best := 0
	for i, s := range shards {
		if s > shards[best] {
			best = i
		}
	}

	return best
}

// jitterShards moves up to a quarter of each even shard onto its neighbor,
// keeping the sum constant.
func jitterShards(shards []uint64) error {
	for i := 0; i+1 < len(shards); i += 2 {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return err
		}

		quarter := shards[i] / 4
		if quarter == 0 {
			continue
		}

		move := binary.BigEndian.Uint64(buf[:]) % quarter
		shards[i] -= move
		shards[i+1] += move
	}

	return nil
}

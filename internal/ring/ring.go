// Package ring implements pure, deterministic topology functions over the
// current set of ring member ids. It holds no state of its own — the
// membership engine owns the node-id set and passes a snapshot of it into
// every call.
package ring

import (
	"sort"

	"github.com/ringkv/ringkv/pkg/types"
)

// sortedCopy returns ids sorted ascending, without mutating the caller's
// slice. Duplicate ids are kept.
func sortedCopy(ids []types.NodeID) []types.NodeID {
	out := make([]types.NodeID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Successor returns the smallest id in S strictly greater than me, wrapping
// to the minimum id in S if me is the maximum. S must be non-empty.
func Successor(ids []types.NodeID, me types.NodeID) types.NodeID {
	s := sortedCopy(ids)
	for _, id := range s {
		if id > me {
			return id
		}
	}
	return s[0]
}

// OwnersOf returns the N (or |S| if smaller) node ids responsible for key,
// walking clockwise from key: ids >= key ascending, then ids < key ascending.
// The result is insensitive to the iteration order of S.
func OwnersOf(ids []types.NodeID, key int64, n int) []types.NodeID {
	s := sortedCopy(ids)
	if len(s) == 0 || n <= 0 {
		return nil
	}
	if n > len(s) {
		n = len(s)
	}

	startIdx := sort.Search(len(s), func(i int) bool {
		return int64(s[i]) >= key
	})

	owners := make([]types.NodeID, 0, n)
	for i := 0; i < len(s) && len(owners) < n; i++ {
		owners = append(owners, s[(startIdx+i)%len(s)])
	}
	return owners
}

// NextReplicasAfter returns the N successors of me on the ring, excluding me.
// If |S| < N+1 the result may be shorter than N.
func NextReplicasAfter(ids []types.NodeID, me types.NodeID, n int) []types.NodeID {
	s := sortedCopy(ids)
	if len(s) == 0 || n <= 0 {
		return nil
	}

	startIdx := -1
	for i, id := range s {
		if id == me {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// me is not a ring member (e.g. computing hand-off targets before
		// self is registered); treat key-space position as if me were
		// present by finding where it would sort.
		startIdx = sort.Search(len(s), func(i int) bool { return s[i] > me }) - 1
		if startIdx < 0 {
			startIdx = len(s) - 1
		}
	}

	replicas := make([]types.NodeID, 0, n)
	for i := 1; i <= len(s) && len(replicas) < n; i++ {
		idx := (startIdx + i) % len(s)
		if s[idx] == me {
			continue
		}
		replicas = append(replicas, s[idx])
	}
	return replicas
}

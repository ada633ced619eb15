// Package versioning resolves conflicting replica votes into one winning
// VersionedItem, adapted from Resolver
// (internal/versioning/resolver.go): that prior version picked between a
// last-write-wins timestamp strategy and a vector-clock strategy. Versions
// here are a single monotone integer per key, so there is no causality to
// track and no VectorClockBased strategy survives — only the max-version
// rule, with ties broken by the smallest replying node id.
package versioning

import "github.com/ringkv/ringkv/pkg/types"

// Vote pairs a replica's reply with the id of the node that sent it, so the
// resolver can break version ties deterministically.
type Vote struct {
	NodeID types.NodeID
	Item   *types.VersionedItem // nil is a valid vote: the replica holds nothing for this key.
}

// Resolver picks the winning item from a set of replica votes collected for
// one key during quorum aggregation.
type Resolver struct{}

// NewResolver creates a conflict resolver. Kept as a constructor (rather
// than a bare function) to match the prior pluggable-resolver shape,
// in case a future strategy needs construction-time state.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the vote with the highest version; among votes tied at the
// highest version, the one from the smallest node id wins. Returns ok=false
// if every vote is absent (∅).
func (r *Resolver) Resolve(votes []Vote) (item types.VersionedItem, winner types.NodeID, ok bool) {
	for _, v := range votes {
		if v.Item == nil {
			continue
		}
		if !ok || v.Item.Version > item.Version || (v.Item.Version == item.Version && v.NodeID < winner) {
			item = *v.Item
			winner = v.NodeID
			ok = true
		}
	}
	return item, winner, ok
}

// MaxVersion returns the highest version present among votes, or 0 if every
// vote is absent. Used by the update path to compute new-version = 1 +
// MaxVersion(votes).
func MaxVersion(votes []Vote) uint64 {
	var max uint64
	for _, v := range votes {
		if v.Item != nil && v.Item.Version > max {
			max = v.Item.Version
		}
	}
	return max
}

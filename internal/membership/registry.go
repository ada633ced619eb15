// Package membership implements the membership engine: the NodeRegistry and
// the bootstrap/join/recover state machine, adapted from
// gossip.MembershipList (internal/gossip/membership.go). That prior version
// tracked per-member heartbeats, incarnation numbers, and alive/suspect/dead
// state for a SWIM-style failure detector; none of that survives here —
// membership changes only on an explicit join/rejoin/leave message, there is
// no failure detector, and the registry is touched only by the single
// goroutine that owns its node, so it carries no mutex.
package membership

import "github.com/ringkv/ringkv/pkg/types"

// Registry is the NodeRegistry: a mapping from NodeId to an opaque peer
// handle, always containing the node's own entry.
type Registry struct {
	self  types.NodeID
	peers map[types.NodeID]types.PeerHandle
}

// NewRegistry creates a registry containing only selfHandle.
func NewRegistry(self types.NodeID, selfHandle types.PeerHandle) *Registry {
	return &Registry{
		self: self,
		peers: map[types.NodeID]types.PeerHandle{
			self: selfHandle,
		},
	}
}

// Put adds or overwrites the handle for id — used when a Join/ReJoin
// message carries a (possibly new) handle for a node.
func (r *Registry) Put(id types.NodeID, handle types.PeerHandle) {
	r.peers[id] = handle
}

// Merge unions other into the registry, overwriting any existing entry for
// the same id with other's handle for it.
func (r *Registry) Merge(other map[types.NodeID]types.PeerHandle) {
	for id, handle := range other {
		r.peers[id] = handle
	}
}

// Remove deletes id from the registry. Removing self is a no-op: a node
// must always find itself in its own registry.
func (r *Registry) Remove(id types.NodeID) {
	if id == r.self {
		return
	}
	delete(r.peers, id)
}

// Get returns the handle for id, if known.
func (r *Registry) Get(id types.NodeID) (types.PeerHandle, bool) {
	h, ok := r.peers[id]
	return h, ok
}

// IDs returns a snapshot of every known node id, including self. The slice
// is a fresh copy safe for the caller to sort or mutate.
func (r *Registry) IDs() []types.NodeID {
	ids := make([]types.NodeID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Peers returns a snapshot of the full id-to-handle map, including self.
func (r *Registry) Peers() map[types.NodeID]types.PeerHandle {
	out := make(map[types.NodeID]types.PeerHandle, len(r.peers))
	for id, h := range r.peers {
		out[id] = h
	}
	return out
}

// Size returns the number of known nodes, including self.
func (r *Registry) Size() int {
	return len(r.peers)
}

// Self returns this node's own id.
func (r *Registry) Self() types.NodeID {
	return r.self
}

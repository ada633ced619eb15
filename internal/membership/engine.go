package membership

import (
	"fmt"
	"log"

	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/storage"
	"github.com/ringkv/ringkv/pkg/types"
)

// Sender is the outbound messaging capability the engine needs: every peer
// message is a non-blocking, fire-and-forget send — including the
// join/recover handshake, whose replies arrive later as ordinary inbound
// messages processed by the same single-threaded dispatcher that issued the
// request.
type Sender interface {
	Send(to types.PeerHandle, msg types.Message) error
}

// Engine is the membership engine: the NodeRegistry plus the
// bootstrap/join/recover state machine.
type Engine struct {
	registry *Registry
	storage  storage.StorageManager
	sender   Sender
	n        int
	state    types.State
	logger   *log.Logger
}

// NewEngine constructs an engine whose state is the zero State
// (JoiningWaitingNodes) — call Bootstrap, StartJoin, or StartRecover exactly
// once to perform the one-shot start transition.
func NewEngine(self types.NodeID, selfHandle types.PeerHandle, n int, store storage.StorageManager, sender Sender, logger *log.Logger) *Engine {
	return &Engine{
		registry: NewRegistry(self, selfHandle),
		storage:  store,
		sender:   sender,
		n:        n,
		logger:   logger,
	}
}

// State returns the engine's current state.
func (e *Engine) State() types.State { return e.state }

// Registry exposes the NodeRegistry for the coordinator and dispatcher to
// read (ring topology calls, reply-handle lookups).
func (e *Engine) Registry() *Registry { return e.registry }

// Bootstrap performs the BOOTSTRAP start transition: clear storage, keep
// NodeRegistry = {self}, become READY immediately.
func (e *Engine) Bootstrap() error {
	if err := e.storage.Clear(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	e.state = types.Ready
	return nil
}

// StartJoin performs the JOIN start transition: clear storage and send a
// JoinRequest to remote. The rest of the handshake continues asynchronously
// as NodesList and JoinData arrive (HandleNodesList, HandleJoinData).
func (e *Engine) StartJoin(remote types.PeerHandle) error {
	if err := e.storage.Clear(); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := e.sender.Send(remote, types.JoinRequest{SenderID: e.registry.Self(), SenderHandle: e.selfHandle()}); err != nil {
		return fmt.Errorf("join: JoinRequest to %v failed: %w", remote, err)
	}
	e.state = types.JoiningWaitingNodes
	return nil
}

// StartRecover performs the RECOVER start transition: storage is left
// intact (it already holds whatever survived the crash); a JoinRequest is
// sent to learn the current ring, and recovery completes in HandleNodesList.
func (e *Engine) StartRecover(remote types.PeerHandle) error {
	if err := e.sender.Send(remote, types.JoinRequest{SenderID: e.registry.Self(), SenderHandle: e.selfHandle()}); err != nil {
		return fmt.Errorf("recover: JoinRequest to %v failed: %w", remote, err)
	}
	e.state = types.RecoveringWaitingNodes
	return nil
}

// HandleNodesList applies an arriving NodesList according to which start
// transition is in flight.
func (e *Engine) HandleNodesList(msg types.NodesList) error {
	switch e.state {
	case types.JoiningWaitingNodes:
		e.registry.Merge(msg.Nodes)
		successor := ring.Successor(e.registry.IDs(), e.registry.Self())
		successorHandle, ok := e.registry.Get(successor)
		if !ok {
			return fmt.Errorf("join: successor %d has no known handle", successor)
		}
		if err := e.sender.Send(successorHandle, types.DataRequest{SenderID: e.registry.Self(), SenderHandle: e.selfHandle()}); err != nil {
			return fmt.Errorf("join: DataRequest to %d failed: %w", successor, err)
		}
		e.state = types.JoiningWaitingData
		return nil

	case types.RecoveringWaitingNodes:
		e.registry.Merge(msg.Nodes)
		e.registry.Put(e.registry.Self(), e.selfHandle())
		if err := e.purgeOldKeys(); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		e.broadcast(types.ReJoin{SenderID: e.registry.Self(), Handle: e.selfHandle()})
		e.state = types.Ready
		return nil

	default:
		e.logger.Printf("membership: unexpected NodesList from %d in state %v", msg.SenderID, e.state)
		return nil
	}
}

// HandleJoinData completes the JOIN start transition: absorb the handed-off
// records and announce arrival.
func (e *Engine) HandleJoinData(msg types.JoinData) error {
	if e.state != types.JoiningWaitingData {
		e.logger.Printf("membership: unexpected JoinData from %d in state %v", msg.SenderID, e.state)
		return nil
	}
	if err := e.storage.AppendAll(msg.Records); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	e.broadcast(types.Join{SenderID: e.registry.Self(), Handle: e.selfHandle()})
	e.state = types.Ready
	return nil
}

// HandleJoinRequest answers a peer's JoinRequest with the current registry
// snapshot, but only while READY — any other state logs and drops it.
func (e *Engine) HandleJoinRequest(msg types.JoinRequest) error {
	if e.state != types.Ready {
		e.logger.Printf("membership: dropping JoinRequest from %d: not READY", msg.SenderID)
		return nil
	}
	reply := types.NodesList{SenderID: e.registry.Self(), Nodes: e.registry.Peers()}
	return e.sender.Send(msg.SenderHandle, reply)
}

// HandleDataRequest answers a peer's DataRequest with this node's full
// storage contents, only while READY.
func (e *Engine) HandleDataRequest(msg types.DataRequest) error {
	if e.state != types.Ready {
		e.logger.Printf("membership: dropping DataRequest from %d: not READY", msg.SenderID)
		return nil
	}
	records, err := e.storage.ReadAll()
	if err != nil {
		return fmt.Errorf("membership: ReadAll failed answering DataRequest from %d: %w", msg.SenderID, err)
	}
	reply := types.JoinData{SenderID: e.registry.Self(), Records: records}
	return e.sender.Send(msg.SenderHandle, reply)
}

// HandleJoin applies a peer's Join announcement: register its handle and
// purge keys this node no longer owns now that the ring has grown.
func (e *Engine) HandleJoin(msg types.Join) error {
	e.registry.Put(msg.SenderID, msg.Handle)
	return e.purgeOldKeys()
}

// HandleReJoin applies a peer's ReJoin announcement: register its handle.
// No purge — a recovering node's data was never evicted while it was down.
func (e *Engine) HandleReJoin(msg types.ReJoin) {
	e.registry.Put(msg.SenderID, msg.Handle)
}

// HandleLeave applies a peer's Leave announcement: drop it from the
// registry. No purge — the leaver already pushed its data to its
// successors before announcing.
func (e *Engine) HandleLeave(msg types.Leave) {
	e.registry.Remove(msg.SenderID)
}

// HandleLeaveData absorbs data handed off by a departing node.
func (e *Engine) HandleLeaveData(msg types.LeaveData) error {
	return e.storage.AppendAll(msg.Records)
}

// HandleClientLeaveRequest performs the graceful-leave sequence: hand off
// this node's full data to its N successors, announce departure, and
// returns the response to send the client before the dispatcher shuts down.
func (e *Engine) HandleClientLeaveRequest() (types.ClientLeaveResponse, error) {
	records, err := e.storage.ReadAll()
	if err != nil {
		return types.ClientLeaveResponse{}, fmt.Errorf("leave: %w", err)
	}

	for _, successor := range ring.NextReplicasAfter(e.registry.IDs(), e.registry.Self(), e.n) {
		handle, ok := e.registry.Get(successor)
		if !ok {
			continue
		}
		if err := e.sender.Send(handle, types.LeaveData{SenderID: e.registry.Self(), Records: records}); err != nil {
			e.logger.Printf("membership: LeaveData to %d failed: %v", successor, err)
		}
	}

	e.broadcast(types.Leave{SenderID: e.registry.Self()})
	return types.ClientLeaveResponse{NodeID: e.registry.Self()}, nil
}

// purgeOldKeys recomputes, for every locally stored key, whether this node
// is still among its owners under the current registry, and rewrites
// storage to retain only the keys it still owns.
func (e *Engine) purgeOldKeys() error {
	current := e.storage.Cache()
	ids := e.registry.IDs()
	self := e.registry.Self()

	retained := make(map[int64]types.VersionedItem, len(current))
	for key, item := range current {
		owners := ring.OwnersOf(ids, key, e.n)
		for _, owner := range owners {
			if owner == self {
				retained[key] = item
				break
			}
		}
	}
	return e.storage.WriteAll(retained)
}

func (e *Engine) broadcast(msg types.Message) {
	self := e.registry.Self()
	for id, handle := range e.registry.Peers() {
		if id == self {
			continue
		}
		if err := e.sender.Send(handle, msg); err != nil {
			e.logger.Printf("membership: broadcast to %d failed: %v", id, err)
		}
	}
}

func (e *Engine) selfHandle() types.PeerHandle {
	h, _ := e.registry.Get(e.registry.Self())
	return h
}

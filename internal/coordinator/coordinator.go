// Package coordinator implements the quorum coordinator, adapted from
// replication.Coordinator (internal/replication/coordinator.go): that prior
// version fanned a read or write out to N nodes with a goroutine per
// node, a sync.WaitGroup, and blocked the calling HTTP handler until they
// settled. Here there is exactly one goroutine per node — fan-out is a
// burst of non-blocking Sends, and "waiting for quorum" is realized as
// ordinary inbound messages (ReadResponse, TimeoutMessage) processed later
// by the same dispatcher loop that issued the request, correlated through
// internal/reqtable rather than a WaitGroup.
package coordinator

import (
	"log"

	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/reqtable"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/storage"
	"github.com/ringkv/ringkv/pkg/types"
)

// Sender is the outbound messaging capability the coordinator needs —
// identical in shape to membership.Sender; both are satisfied by the same
// internal/transport implementation.
type Sender interface {
	Send(to types.PeerHandle, msg types.Message) error
}

// Coordinator is the quorum coordinator: client-facing read and update
// orchestration plus the replica-side handlers every node also runs.
type Coordinator struct {
	self     types.NodeID
	registry *membership.Registry
	storage  storage.StorageManager
	sender   Sender
	tables   *reqtable.Tables
	n, r, w  int
	nextID   uint64
	logger   *log.Logger
}

// New constructs a coordinator. tables must already be wired to post
// TimeoutMessages back into this node's mailbox.
func New(self types.NodeID, registry *membership.Registry, store storage.StorageManager, sender Sender, n, r, w int, tables *reqtable.Tables, logger *log.Logger) *Coordinator {
	return &Coordinator{
		self:     self,
		registry: registry,
		storage:  store,
		sender:   sender,
		tables:   tables,
		n:        n,
		r:        r,
		w:        w,
		logger:   logger,
	}
}

func (c *Coordinator) nextRequestID() uint64 {
	c.nextID++
	return c.nextID
}

// HandleClientReadRequest begins the read path: check node availability,
// open a read-request table entry, and fan out ReadRequests to the key's
// owners.
func (c *Coordinator) HandleClientReadRequest(req types.ClientReadRequest) {
	if c.r > c.registry.Size() || c.n > c.registry.Size() {
		req.Reply <- types.ClientOperationError{NodeID: c.self, Message: "not enough nodes"}
		return
	}

	reqID := c.nextRequestID()
	c.tables.StartRead(reqID, req.Key, req.Reply, c.r)
	c.fanOutReads(reqID, req.Key)
}

// HandleClientUpdateRequest begins the update path: it runs the same
// read-quorum phase as a plain read, to discover the current max version
// before proposing a new one. Unlike the read path, only node availability
// (N) gates admission here, not the read quorum (R) — preserved
// deliberately, not "fixed" to check R too.
func (c *Coordinator) HandleClientUpdateRequest(req types.ClientUpdateRequest) {
	if c.n > c.registry.Size() {
		req.Reply <- types.ClientOperationError{NodeID: c.self, Message: "not enough nodes"}
		return
	}

	reqID := c.nextRequestID()
	c.tables.StartWrite(reqID, req.Key, req.Value, req.Reply, c.r, c.w)
	c.fanOutReads(reqID, req.Key)
}

func (c *Coordinator) fanOutReads(reqID uint64, key int64) {
	msg := types.ReadRequest{CoordID: c.self, ReqID: reqID, Key: key}
	for _, owner := range ring.OwnersOf(c.registry.IDs(), key, c.n) {
		handle, ok := c.registry.Get(owner)
		if !ok {
			continue
		}
		if err := c.sender.Send(handle, msg); err != nil {
			c.logger.Printf("coordinator: ReadRequest to %d failed: %v", owner, err)
		}
	}
}

// HandleReadResponse applies a replica's vote to whichever table (read or
// update) reqID belongs to, completing the operation once quorum is
// reached. A reqID matching neither table is a stale or duplicate reply and
// is dropped silently.
func (c *Coordinator) HandleReadResponse(msg types.ReadResponse) {
	var item *types.VersionedItem
	if msg.Found {
		v := msg.Item
		item = &v
	}

	if status, ok := c.tables.AppendReadVote(msg.ReqID, msg.ReplicaID, item); ok {
		if status.QuorumReached() {
			c.completeRead(msg.ReqID, status)
		}
		return
	}

	if status, ok := c.tables.AppendWriteVote(msg.ReqID, msg.ReplicaID, item); ok {
		if status.QuorumReached() {
			c.completeWrite(msg.ReqID, status)
		}
		return
	}
}

func (c *Coordinator) completeRead(reqID uint64, status *reqtable.ReadRequestStatus) {
	latest, _, ok := status.Latest()
	if ok {
		status.Client <- types.ClientReadResponse{NodeID: c.self, Key: status.Key, Value: latest.Value, Found: true}
	} else {
		status.Client <- types.ClientReadResponse{NodeID: c.self, Key: status.Key, Found: false}
	}
	c.tables.FinishRead(reqID)
}

func (c *Coordinator) completeWrite(reqID uint64, status *reqtable.WriteRequestStatus) {
	updated := types.VersionedItem{Value: status.Value, Version: status.NextVersion()}
	status.Client <- types.ClientUpdateResponse{NodeID: c.self, Key: status.Key, Item: updated}

	// Owners may have changed since the read phase; recompute before
	// fan-out rather than reusing the read phase's owner list. A replica
	// receiving a WriteRequest never rejects it as "not responsible".
	// The WriteRequest carries the coordinator's current request count
	// (c.nextID), not reqID — preserved deliberately: when another client
	// request has started since this one, the two differ.
	writeMsg := types.WriteRequest{CoordID: c.self, ReqID: c.nextID, Key: status.Key, Item: updated}
	for _, owner := range ring.OwnersOf(c.registry.IDs(), status.Key, c.n) {
		handle, ok := c.registry.Get(owner)
		if !ok {
			continue
		}
		if err := c.sender.Send(handle, writeMsg); err != nil {
			c.logger.Printf("coordinator: WriteRequest to %d failed: %v", owner, err)
		}
	}
	c.tables.FinishWrite(reqID)
}

// HandleTimeoutMessage implements the timeout handler: if reqID is still
// live, surface a timeout error to the waiting client; otherwise the
// quorum already completed and this late fire is a no-op.
func (c *Coordinator) HandleTimeoutMessage(msg types.TimeoutMessage) {
	if status, ok := c.tables.Read(msg.ReqID); ok {
		status.Client <- types.ClientOperationError{NodeID: c.self, Message: "timeout"}
		c.tables.FinishRead(msg.ReqID)
		return
	}
	if status, ok := c.tables.Write(msg.ReqID); ok {
		status.Client <- types.ClientOperationError{NodeID: c.self, Message: "timeout"}
		c.tables.FinishWrite(msg.ReqID)
		return
	}
}

// HandleReadRequest is the replica-side read handler, run on every node
// regardless of whether it is also coordinating the operation.
func (c *Coordinator) HandleReadRequest(msg types.ReadRequest) {
	item, found := c.storage.Get(msg.Key)
	reply := types.ReadResponse{ReplicaID: c.self, ReqID: msg.ReqID, Key: msg.Key, Found: found}
	if found {
		reply.Item = item
	}

	handle, ok := c.registry.Get(msg.CoordID)
	if !ok {
		c.logger.Printf("coordinator: no known handle for coordinator %d", msg.CoordID)
		return
	}
	if err := c.sender.Send(handle, reply); err != nil {
		c.logger.Printf("coordinator: ReadResponse to %d failed: %v", msg.CoordID, err)
	}
}

// HandleWriteRequest is the replica-side write handler: apply the update
// durably and to the cache. No reply.
func (c *Coordinator) HandleWriteRequest(msg types.WriteRequest) error {
	return c.storage.Append(msg.Key, msg.Item)
}

// Package node implements the node dispatcher: the single goroutine that
// owns one node's private state and processes its mailbox one message at a
// time. There is no direct analogue to generalize from — the prior
// coordinator and gossip layer were driven directly by blocking HTTP
// handlers and a ticking gossip goroutine, with locks protecting their
// shared state (internal/replication/coordinator.go's nodesMu,
// gossip/membership.go's mu). This package replaces both with the
// idiomatic Go rendering of a single-threaded actor model: a buffered
// channel mailbox and a type switch, so membership.Engine and
// coordinator.Coordinator can stay lock-free.
package node

import (
	"context"
	"log"

	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/pkg/types"
)

const mailboxSize = 256

// Node owns one ring member's membership engine and quorum coordinator, and
// serializes every peer, timer, and client message against them through a
// single mailbox.
type Node struct {
	membership *membership.Engine
	coord      *coordinator.Coordinator
	mailbox    chan types.Message
	logger     *log.Logger
	stopped    chan struct{}
}

// New constructs a dispatcher around an already-wired engine and
// coordinator. Call Enqueue to post messages and Run to start draining the
// mailbox; Run must be called from exactly one goroutine.
func New(engine *membership.Engine, coord *coordinator.Coordinator, logger *log.Logger) *Node {
	return &Node{
		membership: engine,
		coord:      coord,
		mailbox:    make(chan types.Message, mailboxSize),
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

// Enqueue posts msg to the mailbox. Safe to call from any goroutine —
// transport delivery callbacks, the timer scheduler inside internal/reqtable,
// and client-facing HTTP handlers all call it concurrently; dispatch itself
// stays single-threaded.
func (n *Node) Enqueue(msg types.Message) {
	select {
	case n.mailbox <- msg:
	case <-n.stopped:
	}
}

// Stopped is closed once a ClientLeaveRequest has been processed to
// completion — the node's terminal state. Callers use it to know when to
// tear down the process-level messaging runtime.
func (n *Node) Stopped() <-chan struct{} { return n.stopped }

// Run drains the mailbox until ctx is cancelled or the node processes its
// own shutdown. Exactly one handler runs at a time, to completion, before
// the next message is taken.
func (n *Node) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.mailbox:
			n.dispatch(msg)
			select {
			case <-n.stopped:
				return
			default:
			}
		}
	}
}

func (n *Node) dispatch(msg types.Message) {
	switch m := msg.(type) {
	case types.JoinRequest:
		n.logErr(n.membership.HandleJoinRequest(m))
	case types.DataRequest:
		n.logErr(n.membership.HandleDataRequest(m))
	case types.NodesList:
		n.logErr(n.membership.HandleNodesList(m))
	case types.JoinData:
		n.logErr(n.membership.HandleJoinData(m))
	case types.Join:
		n.logErr(n.membership.HandleJoin(m))
	case types.ReJoin:
		n.membership.HandleReJoin(m)
	case types.Leave:
		n.membership.HandleLeave(m)
	case types.LeaveData:
		n.logErr(n.membership.HandleLeaveData(m))

	case types.ReadRequest:
		if n.requireReady("ReadRequest") {
			n.coord.HandleReadRequest(m)
		}
	case types.ReadResponse:
		n.coord.HandleReadResponse(m)
	case types.WriteRequest:
		if n.requireReady("WriteRequest") {
			n.logErr(n.coord.HandleWriteRequest(m))
		}
	case types.TimeoutMessage:
		if n.requireReady("TimeoutMessage") {
			n.coord.HandleTimeoutMessage(m)
		}

	case types.ClientReadRequest:
		if n.requireReadyForClient(m.Reply) {
			n.coord.HandleClientReadRequest(m)
		}
	case types.ClientUpdateRequest:
		if n.requireReadyForClient(m.Reply) {
			n.coord.HandleClientUpdateRequest(m)
		}
	case types.ClientLeaveRequest:
		n.handleClientLeave(m)

	default:
		n.logger.Printf("node: dropping unknown message type %T", msg)
	}
}

// requireReady is the dispatch-level admission gate for peer read/write
// traffic: READY is the only state that serves peer data requests. A
// non-READY node drops the message and logs, the same way
// membership.Engine's own HandleJoinRequest/HandleDataRequest already treat
// a not-READY state as a silent drop.
func (n *Node) requireReady(what string) bool {
	if n.membership.State() == types.Ready {
		return true
	}
	n.logger.Printf("node: dropping %s: not READY (state=%v)", what, n.membership.State())
	return false
}

// requireReadyForClient is the client-facing counterpart of requireReady:
// READY is the only state that serves client requests, so a client arriving
// mid-join or mid-recover gets an explicit error on its reply channel
// instead of being routed to a coordinator acting on possibly-cleared
// storage or a stale registry.
func (n *Node) requireReadyForClient(reply chan<- types.ClientResponse) bool {
	if n.membership.State() == types.Ready {
		return true
	}
	reply <- types.ClientOperationError{
		NodeID:  n.membership.Registry().Self(),
		Message: "node not ready: " + n.membership.State().String(),
	}
	return false
}

func (n *Node) handleClientLeave(req types.ClientLeaveRequest) {
	resp, err := n.membership.HandleClientLeaveRequest()
	if err != nil {
		req.Reply <- types.ClientOperationError{NodeID: n.membership.Registry().Self(), Message: err.Error()}
		return
	}
	req.Reply <- resp
	close(n.stopped)
}

func (n *Node) logErr(err error) {
	if err != nil {
		n.logger.Printf("node: %v", err)
	}
}

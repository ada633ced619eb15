// Package reqtable implements the per-node request tables: two maps, keyed
// by a monotone requestCount local to the owning node, tracking in-flight
// read and write quorum collection plus a cancellable one-shot timeout per
// entry. Adapted from QuorumManager
// (internal/replication/quorum.go), which counted successes/errors across a
// goroutine fan-out with a WaitGroup; here there is exactly one goroutine per
// node, so table mutation needs no locking — only the scheduled
// timeout callback, which fires on the Go runtime's own timer goroutine,
// crosses a goroutine boundary, and it does so by posting a message back
// into the node's mailbox rather than touching table state directly.
package reqtable

import (
	"time"

	"github.com/ringkv/ringkv/internal/versioning"
	"github.com/ringkv/ringkv/pkg/types"
)

// ReadRequestStatus tracks one in-flight read: a key, the client to
// reply to, the quorum threshold R, and the votes collected so far. A nil
// Item in a vote is the "∅" vote — absence is itself a valid vote.
type ReadRequestStatus struct {
	Key    int64
	Client chan<- types.ClientResponse
	R      int
	Votes  []versioning.Vote
}

// Latest returns the vote with the maximum version, tie-broken by smallest
// replying node id, or ok=false if every vote so far is ∅.
func (s *ReadRequestStatus) Latest() (types.VersionedItem, types.NodeID, bool) {
	return versioning.NewResolver().Resolve(s.Votes)
}

// QuorumReached reports whether enough votes (present or absent) have been
// collected to satisfy R.
func (s *ReadRequestStatus) QuorumReached() bool {
	return len(s.Votes) >= s.R
}

// WriteRequestStatus tracks one in-flight update: the update path
// runs its own read-quorum phase (to discover the max existing version)
// before proposing a new version, so it reuses the same vote-collection
// shape as ReadRequestStatus plus the proposed value and W.
type WriteRequestStatus struct {
	Key    int64
	Value  string
	Client chan<- types.ClientResponse
	R      int
	W      int
	Votes  []versioning.Vote
}

// NextVersion computes the updated-record's version: one greater than the
// maximum version among collected votes, or 1 if every vote is ∅.
func (s *WriteRequestStatus) NextVersion() uint64 {
	return versioning.MaxVersion(s.Votes) + 1
}

// QuorumReached reports whether R votes have been collected.
func (s *WriteRequestStatus) QuorumReached() bool {
	return len(s.Votes) >= s.R
}

// Tables holds the two independent request tables for one node, plus the
// live timeout timers. It must only ever be touched by the single goroutine
// that owns the node — the deliver callback is the sole exception, invoked
// from a timer goroutine.
type Tables struct {
	reads   map[uint64]*ReadRequestStatus
	writes  map[uint64]*WriteRequestStatus
	timers  map[uint64]*time.Timer
	timeout time.Duration
	deliver func(types.Message)
}

// New creates an empty pair of request tables. deliver is called (from a
// timer goroutine, not the node's own) to post a TimeoutMessage back into
// the owning node's mailbox when an entry's timer fires.
func New(timeout time.Duration, deliver func(types.Message)) *Tables {
	return &Tables{
		reads:   make(map[uint64]*ReadRequestStatus),
		writes:  make(map[uint64]*WriteRequestStatus),
		timers:  make(map[uint64]*time.Timer),
		timeout: timeout,
		deliver: deliver,
	}
}

// arm schedules a one-shot timeout for reqId. Must be called at most once
// per reqId before the entry is removed.
func (t *Tables) arm(reqID uint64) {
	t.timers[reqID] = time.AfterFunc(t.timeout, func() {
		t.deliver(types.TimeoutMessage{ReqID: reqID})
	})
}

// StartRead creates a new ReadRequestStatus under reqID and arms its
// timeout.
func (t *Tables) StartRead(reqID uint64, key int64, client chan<- types.ClientResponse, r int) *ReadRequestStatus {
	status := &ReadRequestStatus{Key: key, Client: client, R: r}
	t.reads[reqID] = status
	t.arm(reqID)
	return status
}

// StartWrite creates a new WriteRequestStatus under reqID and arms its
// timeout.
func (t *Tables) StartWrite(reqID uint64, key int64, value string, client chan<- types.ClientResponse, r, w int) *WriteRequestStatus {
	status := &WriteRequestStatus{Key: key, Value: value, Client: client, R: r, W: w}
	t.writes[reqID] = status
	t.arm(reqID)
	return status
}

// Read returns the live ReadRequestStatus for reqID, if any.
func (t *Tables) Read(reqID uint64) (*ReadRequestStatus, bool) {
	s, ok := t.reads[reqID]
	return s, ok
}

// Write returns the live WriteRequestStatus for reqID, if any.
func (t *Tables) Write(reqID uint64) (*WriteRequestStatus, bool) {
	s, ok := t.writes[reqID]
	return s, ok
}

// AppendReadVote records a vote against an in-flight read request. ok is
// false if reqID is not a live read (a stale or already-completed reply —
// the caller should drop it silently).
func (t *Tables) AppendReadVote(reqID uint64, from types.NodeID, item *types.VersionedItem) (*ReadRequestStatus, bool) {
	s, ok := t.reads[reqID]
	if !ok {
		return nil, false
	}
	s.Votes = append(s.Votes, versioning.Vote{NodeID: from, Item: item})
	return s, true
}

// AppendWriteVote records a vote against an in-flight update's read phase.
func (t *Tables) AppendWriteVote(reqID uint64, from types.NodeID, item *types.VersionedItem) (*WriteRequestStatus, bool) {
	s, ok := t.writes[reqID]
	if !ok {
		return nil, false
	}
	s.Votes = append(s.Votes, versioning.Vote{NodeID: from, Item: item})
	return s, true
}

// FinishRead cancels reqID's timer and removes it from the read table. Safe
// to call from the quorum-completion path or the timeout handler.
func (t *Tables) FinishRead(reqID uint64) {
	t.cancel(reqID)
	delete(t.reads, reqID)
}

// FinishWrite cancels reqID's timer and removes it from the write table.
func (t *Tables) FinishWrite(reqID uint64) {
	t.cancel(reqID)
	delete(t.writes, reqID)
}

func (t *Tables) cancel(reqID uint64) {
	if timer, ok := t.timers[reqID]; ok {
		timer.Stop()
		delete(t.timers, reqID)
	}
}

// Pending reports whether reqID is still live in either table.
func (t *Tables) Pending(reqID uint64) bool {
	if _, ok := t.reads[reqID]; ok {
		return true
	}
	_, ok := t.writes[reqID]
	return ok
}

package transport

import "github.com/ringkv/ringkv/pkg/types"

// MemoryTransport routes messages directly between in-process nodes by
// address, skipping the network — used by the integration tests, whose
// end-to-end scenarios run several nodes in one test process. Sends
// are still dispatched on their own goroutine to preserve the same
// non-blocking-send semantics the HTTP transport provides, so tests exercise
// the real interleaving the core code is written against.
type MemoryTransport struct {
	routes map[string]func(types.Message)
}

// NewMemoryTransport creates a transport with no registered routes yet.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{routes: make(map[string]func(types.Message))}
}

// Register binds an address to a node's delivery callback. Call once per
// simulated node before any Send targets it.
func (t *MemoryTransport) Register(address string, deliver func(types.Message)) {
	t.routes[address] = deliver
}

// Send implements membership.Sender and coordinator.Sender.
func (t *MemoryTransport) Send(to types.PeerHandle, msg types.Message) error {
	deliver, ok := t.routes[to.Address]
	if !ok {
		return nil // unreachable peer: absorbed silently, matching the core's partial-failure handling.
	}
	go deliver(msg)
	return nil
}

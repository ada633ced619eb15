// Package integration runs multi-node cluster scenarios against an
// in-process ring: internal/transport.MemoryTransport stands in for the
// peer wire and an httptest.Server fronts each node's internal/api router,
// so a whole cluster runs inside a single test binary without spawning real
// processes or binding real ports, unlike an earlier version of this test
// that shelled out to `go run cmd/dynamo/main.go` per node and polled real
// listening ports.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ringkv/ringkv/internal/api"
	"github.com/ringkv/ringkv/internal/config"
	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/node"
	"github.com/ringkv/ringkv/internal/reqtable"
	"github.com/ringkv/ringkv/internal/storage"
	"github.com/ringkv/ringkv/internal/transport"
	"github.com/ringkv/ringkv/pkg/types"
)

const requestTimeout = 200 * time.Millisecond

// testNode bundles one simulated ring node: its dispatcher, its membership
// engine, and an httptest.Server exercising the real client-facing router.
type testNode struct {
	id      types.NodeID
	addr    string
	dataDir string
	engine  *membership.Engine
	node    *node.Node
	server  *httptest.Server
	cancel  context.CancelFunc
}

// peerHandle returns the handle other nodes use to reach this one over mt.
func (tn *testNode) peerHandle() types.PeerHandle {
	return types.PeerHandle{NodeID: tn.id, Address: tn.addr}
}

// stop tears down the dispatcher loop and the HTTP server, but leaves the
// data directory on disk — spawnNode can reopen it to simulate a restart.
func (tn *testNode) stop() {
	tn.cancel()
	tn.server.Close()
}

// spawnNode wires a full node (storage, membership, reqtable, coordinator,
// dispatcher, API server) exactly the way cmd/ringkv/main.go does, registers
// it with mt under addr, and starts its dispatcher loop.
func spawnNode(t *testing.T, id types.NodeID, addr string, n, r, w int, mt *transport.MemoryTransport, dataDir string) *testNode {
	t.Helper()

	store, err := storage.NewFileStore(dataDir)
	if err != nil {
		t.Fatalf("node %d: NewFileStore: %v", id, err)
	}

	logger := log.New(io.Discard, "", 0)
	selfHandle := types.PeerHandle{NodeID: id, Address: addr}

	var dispatcher *node.Node
	mt.Register(addr, func(msg types.Message) { dispatcher.Enqueue(msg) })

	engine := membership.NewEngine(id, selfHandle, n, store, mt, logger)
	tables := reqtable.New(requestTimeout, func(msg types.Message) { dispatcher.Enqueue(msg) })
	coord := coordinator.New(id, engine.Registry(), store, mt, n, r, w, tables, logger)
	dispatcher = node.New(engine, coord, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)

	cfg := &config.Config{NodeID: id, Address: addr, PeerAddress: addr, DataDir: dataDir, N: n, R: r, W: w}
	apiServer := api.NewServer(cfg, dispatcher, engine)
	ts := httptest.NewServer(apiServer.GetRouter())

	return &testNode{id: id, addr: addr, dataDir: dataDir, engine: engine, node: dispatcher, server: ts, cancel: cancel}
}

// bootstrapCluster brings up size nodes, bootstraps node 0 and joins the rest
// through it one at a time (so each join's NodesList/DataRequest/Join
// handshake settles before the next node starts), and returns them in id
// order.
func bootstrapCluster(t *testing.T, size, n, r, w int) ([]*testNode, *transport.MemoryTransport) {
	t.Helper()

	mt := transport.NewMemoryTransport()
	nodes := make([]*testNode, 0, size)

	first := spawnNode(t, 0, "node-0", n, r, w, mt, t.TempDir())
	if err := first.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	nodes = append(nodes, first)

	for i := 1; i < size; i++ {
		id := types.NodeID(i)
		addr := fmt.Sprintf("node-%d", i)
		tn := spawnNode(t, id, addr, n, r, w, mt, t.TempDir())
		if err := tn.engine.StartJoin(nodes[0].peerHandle()); err != nil {
			t.Fatalf("node %d: StartJoin: %v", id, err)
		}
		nodes = append(nodes, tn)
		waitForState(t, tn, types.Ready)
	}

	return nodes, mt
}

func waitForState(t *testing.T, tn *testNode, want types.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tn.engine.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node %d: never reached state %v (stuck at %v)", tn.id, want, tn.engine.State())
}

func httpPut(t *testing.T, tn *testNode, key int64, value string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"value": value})
	url := fmt.Sprintf("%s/kv/%d", tn.server.URL, key)
	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

func httpGet(t *testing.T, tn *testNode, key int64) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/kv/%d", tn.server.URL, key)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decodeGet(t *testing.T, resp *http.Response) (value string, version uint64, found bool) {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		Value   string `json:"value"`
		Version uint64 `json:"version"`
		Found   bool   `json:"found"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out.Value, out.Version, out.Found
}

func stopCluster(nodes []*testNode) {
	for _, tn := range nodes {
		tn.stop()
	}
}

func TestBootstrapUpdateThenRead(t *testing.T) {
	nodes, _ := bootstrapCluster(t, 1, 1, 1, 1)
	defer stopCluster(nodes)

	resp := httpPut(t, nodes[0], 42, "hello-world")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = httpGet(t, nodes[0], 42)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	value, _, found := decodeGet(t, resp)
	if !found || value != "hello-world" {
		t.Errorf("got value=%q found=%v, want \"hello-world\"/true", value, found)
	}
}

func TestThreeNodeJoinReplicatesAcrossCluster(t *testing.T) {
	nodes, _ := bootstrapCluster(t, 3, 3, 2, 2)
	defer stopCluster(nodes)

	for _, tn := range nodes {
		if got := tn.engine.Registry().Size(); got != 3 {
			t.Errorf("node %d: registry size = %d, want 3", tn.id, got)
		}
	}

	resp := httpPut(t, nodes[0], 7, "replicated-value")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// N=3 means every node holds this key; a read from any node must see it.
	for _, tn := range nodes {
		resp := httpGet(t, tn, 7)
		value, _, found := decodeGet(t, resp)
		if !found || value != "replicated-value" {
			t.Errorf("node %d: got value=%q found=%v, want \"replicated-value\"/true", tn.id, value, found)
		}
	}
}

func TestQuorumReadToleratesOneSilentReplica(t *testing.T) {
	nodes, mt := bootstrapCluster(t, 3, 3, 2, 2)
	defer stopCluster(nodes)

	resp := httpPut(t, nodes[0], 99, "quorum-value")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unregister one replica from the transport so its ReadRequest/
	// ReadResponse never arrives — the coordinator must still settle the
	// read from the other two votes (R=2 of N=3).
	silent := nodes[1]
	mt.Register(silent.addr, func(types.Message) {})

	resp = httpGet(t, nodes[0], 99)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	value, _, found := decodeGet(t, resp)
	if !found || value != "quorum-value" {
		t.Errorf("got value=%q found=%v, want \"quorum-value\"/true despite a silent replica", value, found)
	}
}

func TestVersionMonotonicityAcrossRepeatedUpdates(t *testing.T) {
	nodes, _ := bootstrapCluster(t, 1, 1, 1, 1)
	defer stopCluster(nodes)

	var lastVersion uint64
	for i, value := range []string{"v1", "v2", "v3"} {
		resp := httpPut(t, nodes[0], 5, value)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("PUT #%d status = %d", i, resp.StatusCode)
		}
		var out struct {
			Version uint64 `json:"version"`
		}
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		if out.Version <= lastVersion {
			t.Errorf("PUT #%d: version %d did not advance past %d", i, out.Version, lastVersion)
		}
		lastVersion = out.Version
	}
}

func TestGracefulLeaveHandsOffDataToSuccessors(t *testing.T) {
	// Four nodes, so the three left after the leave still meet N=3, which
	// the read path requires of the registry size.
	nodes, _ := bootstrapCluster(t, 4, 3, 2, 2)
	defer stopCluster(nodes)

	resp := httpPut(t, nodes[0], 11, "before-leave")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	leaver := nodes[1]
	resp, err := http.Post(leaver.server.URL+"/cluster/leave", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /cluster/leave: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	select {
	case <-leaver.node.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("leaving node's dispatcher never stopped")
	}

	remaining := []*testNode{nodes[0], nodes[2], nodes[3]}
	deadline := time.Now().Add(2 * time.Second)
	var sawDeparture bool
	for time.Now().Before(deadline) {
		sawDeparture = true
		for _, tn := range remaining {
			if _, ok := tn.engine.Registry().Get(leaver.id); ok {
				sawDeparture = false
			}
		}
		if sawDeparture {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sawDeparture {
		t.Error("remaining nodes never dropped the departed node from their registries")
	}

	for _, tn := range remaining {
		resp := httpGet(t, tn, 11)
		value, _, found := decodeGet(t, resp)
		if !found || value != "before-leave" {
			t.Errorf("node %d: data handed off by the leaver is missing (value=%q found=%v)", tn.id, value, found)
		}
	}
}

func TestRecoveryAfterCrashRestoresData(t *testing.T) {
	nodes, mt := bootstrapCluster(t, 3, 3, 2, 2)
	defer stopCluster(nodes)

	resp := httpPut(t, nodes[0], 13, "survives-crash")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	crashed := nodes[2]
	dataDir := crashed.dataDir
	crashed.stop()

	// Reopen the same data directory under a fresh dispatcher/engine, as a
	// restarted process would, and recover into the still-running cluster.
	restarted := spawnNode(t, crashed.id, crashed.addr, 3, 2, 2, mt, dataDir)
	if err := restarted.engine.StartRecover(nodes[0].peerHandle()); err != nil {
		t.Fatalf("StartRecover: %v", err)
	}
	waitForState(t, restarted, types.Ready)
	defer restarted.stop()

	if got := restarted.engine.Registry().Size(); got != 3 {
		t.Errorf("recovered node registry size = %d, want 3", got)
	}

	resp = httpGet(t, restarted, 13)
	value, _, found := decodeGet(t, resp)
	if !found || value != "survives-crash" {
		t.Errorf("recovered node: got value=%q found=%v, want \"survives-crash\"/true", value, found)
	}
}

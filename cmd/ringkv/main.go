// Command ringkv launches a single ring node. Grounded on cmd/dynamo/main.go:
// flag parsing, an optional JSON config file, a log.Printf startup banner,
// and signal-driven graceful shutdown. The service wiring below replaces
// the gossip membership list and replication.Coordinator of that layout
// with this node's membership.Engine, internal/transport, and
// internal/coordinator, glued together by a single internal/node dispatcher
// goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
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

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	var (
		nodeID         = flag.Int64("node-id", -1, "Non-negative node identifier")
		address        = flag.String("address", "127.0.0.1:8080", "Client API bind address")
		peerAddress    = flag.String("peer-address", "127.0.0.1:9090", "Peer wire bind address, advertised to other nodes")
		dataDir        = flag.String("data-dir", "./data", "Data directory")
		n              = flag.Int("n", 3, "Replication factor (N)")
		r              = flag.Int("r", 2, "Read quorum (R)")
		w              = flag.Int("w", 2, "Write quorum (W)")
		mode           = flag.String("mode", "bootstrap", "Startup mode: bootstrap|join|recover")
		remote         = flag.String("remote", "", "Remote peer address to contact for join/recover")
		requestTimeout = flag.Duration("request-timeout", 5*time.Second, "Quorum request timeout")
		configFile     = flag.String("config", "", "Configuration file path")
		showVersion    = flag.Bool("version", false, "Show version")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("ringkv v%s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if *nodeID >= 0 {
		cfg.NodeID = types.NodeID(*nodeID)
	}
	cfg.Address = *address
	cfg.PeerAddress = *peerAddress
	cfg.DataDir = *dataDir
	cfg.N = *n
	cfg.R = *r
	cfg.W = *w
	cfg.RemoteAddress = *remote
	cfg.RequestTimeout = *requestTimeout

	switch *mode {
	case "bootstrap":
		cfg.Mode = types.ModeBootstrap
	case "join":
		cfg.Mode = types.ModeJoin
	case "recover":
		cfg.Mode = types.ModeRecover
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting ringkv node %d", cfg.NodeID)
	log.Printf("Client API: %s, Peer wire: %s", cfg.Address, cfg.PeerAddress)
	log.Printf("Quorum: N=%d, R=%d, W=%d, mode=%s", cfg.N, cfg.R, cfg.W, cfg.Mode)

	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("Storage initialized: %d keys loaded", len(store.Cache()))

	logger := log.Default()
	selfHandle := types.PeerHandle{NodeID: cfg.NodeID, Address: cfg.PeerAddress}

	// The dispatcher is constructed after the transport and engine/
	// coordinator it glues together, but the transport's inbound delivery
	// callback must forward into its mailbox — so the callback closes over
	// this variable, filled in once the dispatcher exists.
	var dispatcher *node.Node
	peerTransport := transport.NewHTTPTransport(logger, func(msg types.Message) {
		dispatcher.Enqueue(msg)
	})

	engine := membership.NewEngine(cfg.NodeID, selfHandle, cfg.N, store, peerTransport, logger)
	tables := reqtable.New(cfg.RequestTimeout, func(msg types.Message) {
		dispatcher.Enqueue(msg)
	})
	coord := coordinator.New(cfg.NodeID, engine.Registry(), store, peerTransport, cfg.N, cfg.R, cfg.W, tables, logger)
	dispatcher = node.New(engine, coord, logger)

	go func() {
		if err := peerTransport.Listen(cfg.PeerAddress); err != nil {
			log.Printf("peer transport error: %v", err)
		}
	}()

	switch cfg.Mode {
	case types.ModeBootstrap:
		if err := engine.Bootstrap(); err != nil {
			log.Fatalf("bootstrap failed: %v", err)
		}
	case types.ModeJoin:
		remoteHandle := types.PeerHandle{Address: cfg.RemoteAddress}
		if err := engine.StartJoin(remoteHandle); err != nil {
			log.Fatalf("join failed: %v", err)
		}
	case types.ModeRecover:
		remoteHandle := types.PeerHandle{Address: cfg.RemoteAddress}
		if err := engine.StartRecover(remoteHandle); err != nil {
			log.Fatalf("recover failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	apiServer := api.NewServer(cfg, dispatcher, engine)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("client API server error: %v", err)
		}
	}()

	log.Printf("Node %d is ready", cfg.NodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("Shutting down on signal...")
	case <-dispatcher.Stopped():
		log.Println("Node left the cluster, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping client API server: %v", err)
	}
	if err := peerTransport.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping peer transport: %v", err)
	}

	log.Println("Shutdown complete")
}

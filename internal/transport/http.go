// Package transport implements the process-level messaging runtime:
// delivery of peer messages between nodes. HTTPTransport is grounded on
// api.Server (internal/api/server.go) — a gorilla/
// mux router wrapping net/http.Server — reused here for the peer wire
// instead of the client-facing API, plus the prior internal replication
// routes (POST /internal/replicate, GET /internal/read) which already
// establish the idiom of an "internal" mux prefix for node-to-node traffic.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ringkv/ringkv/pkg/types"
)

const messagePath = "/internal/message"

// HTTPTransport sends peer messages over HTTP and dispatches inbound ones to
// a single delivery callback — the owning node's mailbox enqueue function.
// Sends are fire-and-forget, non-blocking, and never flow-controlled by the
// core: each Send spawns its own goroutine and any delivery failure is
// logged, never returned to the single-threaded caller. Only a failure to
// encode the message is returned.
type HTTPTransport struct {
	client *http.Client
	router *mux.Router
	server *http.Server
	logger *log.Logger

	deliver func(types.Message)
}

// NewHTTPTransport builds a transport that will call deliver for every
// inbound peer message once Listen is running.
func NewHTTPTransport(logger *log.Logger, deliver func(types.Message)) *HTTPTransport {
	t := &HTTPTransport{
		client:  &http.Client{Timeout: 5 * time.Second},
		router:  mux.NewRouter(),
		logger:  logger,
		deliver: deliver,
	}
	t.router.HandleFunc(messagePath, t.handleMessage).Methods(http.MethodPost)
	return t
}

// Send implements membership.Sender and coordinator.Sender: POST the encoded
// message to the peer's address, asynchronously.
func (t *HTTPTransport) Send(to types.PeerHandle, msg types.Message) error {
	env, err := encode(msg)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	go func() {
		resp, err := t.client.Post("http://"+to.Address+messagePath, "application/json", bytes.NewReader(body))
		if err != nil {
			t.logger.Printf("transport: send to %s failed: %v", to.Address, err)
			return
		}
		resp.Body.Close()
	}()
	return nil
}

func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	msg, err := decode(env)
	if err != nil {
		t.logger.Printf("transport: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t.deliver(msg)
	w.WriteHeader(http.StatusAccepted)
}

// Listen starts the inbound HTTP server on addr. It blocks until the server
// stops; callers typically run it in its own goroutine.
func (t *HTTPTransport) Listen(addr string) error {
	t.server = &http.Server{
		Addr:         addr,
		Handler:      t.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	t.logger.Printf("transport: listening on %s", addr)
	if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the inbound server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

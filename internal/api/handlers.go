package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ringkv/ringkv/pkg/types"
)

type putRequest struct {
	Value string `json:"value"`
}

type getResponse struct {
	Key     int64  `json:"key"`
	Value   string `json:"value"`
	Version uint64 `json:"version"`
	Found   bool   `json:"found"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	NodeID       types.NodeID `json:"node_id"`
	Address      string       `json:"address"`
	Uptime       string       `json:"uptime"`
	State        string       `json:"state"`
	RegistrySize int          `json:"registry_size"`
}

type ringResponse struct {
	Self  types.NodeID            `json:"self"`
	Peers map[types.NodeID]string `json:"peers"`
}

// handleHealth returns the health status of the node.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"node":   strconv.FormatInt(int64(s.config.NodeID), 10),
	})
}

func parseKey(vars map[string]string) (int64, error) {
	return strconv.ParseInt(vars["key"], 10, 64)
}

// handleGet posts a ClientReadRequest onto the node's mailbox and blocks on
// its Reply channel for the quorum result.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(mux.Vars(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be an integer")
		return
	}

	reply := make(chan types.ClientResponse, 1)
	s.node.Enqueue(types.ClientReadRequest{Key: key, Reply: reply})

	switch resp := (<-reply).(type) {
	case types.ClientReadResponse:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(getResponse{Key: resp.Key, Value: resp.Value, Found: resp.Found})
	case types.ClientOperationError:
		writeError(w, http.StatusServiceUnavailable, resp.Message)
	default:
		writeError(w, http.StatusInternalServerError, "unexpected response")
	}
}

// handlePut posts a ClientUpdateRequest onto the node's mailbox and blocks
// on its Reply channel for the quorum result.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(mux.Vars(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be an integer")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req putRequest
	if err := json.Unmarshal(body, &req); err != nil {
		req.Value = string(body)
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	reply := make(chan types.ClientResponse, 1)
	s.node.Enqueue(types.ClientUpdateRequest{Key: key, Value: req.Value, Reply: reply})

	switch resp := (<-reply).(type) {
	case types.ClientUpdateResponse:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(getResponse{Key: resp.Key, Value: resp.Item.Value, Version: resp.Item.Version, Found: true})
	case types.ClientOperationError:
		writeError(w, http.StatusServiceUnavailable, resp.Message)
	default:
		writeError(w, http.StatusInternalServerError, "unexpected response")
	}
}

// handleLeave triggers the graceful-leave sequence and reports once this
// node has handed off its data and announced departure.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	reply := make(chan types.ClientResponse, 1)
	s.node.Enqueue(types.ClientLeaveRequest{Reply: reply})

	switch resp := (<-reply).(type) {
	case types.ClientLeaveResponse:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "left", "node_id": resp.NodeID})
	case types.ClientOperationError:
		writeError(w, http.StatusInternalServerError, resp.Message)
	default:
		writeError(w, http.StatusInternalServerError, "unexpected response")
	}
}

// handleStatus reports this node's membership state and registry size.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := statusResponse{
		NodeID:       s.membership.Registry().Self(),
		Address:      s.config.Address,
		Uptime:       formatUptime(s.Uptime()),
		State:        s.membership.State().String(),
		RegistrySize: s.membership.Registry().Size(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRing reports the known ring membership as seen from this node.
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	peers := s.membership.Registry().Peers()
	addrs := make(map[types.NodeID]string, len(peers))
	for id, handle := range peers {
		addrs[id] = handle.Address
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ringResponse{Self: s.membership.Registry().Self(), Peers: addrs})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

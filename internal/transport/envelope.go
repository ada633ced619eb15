package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ringkv/ringkv/pkg/types"
)

// envelope is the wire format for a peer message: a type tag plus its raw
// JSON payload. types.Message has no concrete wire representation of its
// own (it is a marker interface), so the envelope is what makes it
// transmissible over HTTP.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(msg types.Message) (envelope, error) {
	var tag string
	switch msg.(type) {
	case types.JoinRequest:
		tag = "join_request"
	case types.NodesList:
		tag = "nodes_list"
	case types.DataRequest:
		tag = "data_request"
	case types.JoinData:
		tag = "join_data"
	case types.Join:
		tag = "join"
	case types.ReJoin:
		tag = "rejoin"
	case types.Leave:
		tag = "leave"
	case types.LeaveData:
		tag = "leave_data"
	case types.ReadRequest:
		tag = "read_request"
	case types.ReadResponse:
		tag = "read_response"
	case types.WriteRequest:
		tag = "write_request"
	default:
		return envelope{}, fmt.Errorf("transport: no wire tag for message type %T", msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return envelope{}, fmt.Errorf("transport: encode %s: %w", tag, err)
	}
	return envelope{Type: tag, Payload: payload}, nil
}

func decode(env envelope) (types.Message, error) {
	var msg types.Message
	switch env.Type {
	case "join_request":
		var m types.JoinRequest
		msg = &m
	case "nodes_list":
		var m types.NodesList
		msg = &m
	case "data_request":
		var m types.DataRequest
		msg = &m
	case "join_data":
		var m types.JoinData
		msg = &m
	case "join":
		var m types.Join
		msg = &m
	case "rejoin":
		var m types.ReJoin
		msg = &m
	case "leave":
		var m types.Leave
		msg = &m
	case "leave_data":
		var m types.LeaveData
		msg = &m
	case "read_request":
		var m types.ReadRequest
		msg = &m
	case "read_response":
		var m types.ReadResponse
		msg = &m
	case "write_request":
		var m types.WriteRequest
		msg = &m
	default:
		return nil, fmt.Errorf("transport: unknown wire tag %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("transport: decode %s: %w", env.Type, err)
	}
	return derefMessage(msg), nil
}

// derefMessage unwraps the pointer decode used into the value types the rest
// of the system switches on (types.JoinRequest, not *types.JoinRequest).
func derefMessage(msg types.Message) types.Message {
	switch m := msg.(type) {
	case *types.JoinRequest:
		return *m
	case *types.NodesList:
		return *m
	case *types.DataRequest:
		return *m
	case *types.JoinData:
		return *m
	case *types.Join:
		return *m
	case *types.ReJoin:
		return *m
	case *types.Leave:
		return *m
	case *types.LeaveData:
		return *m
	case *types.ReadRequest:
		return *m
	case *types.ReadResponse:
		return *m
	case *types.WriteRequest:
		return *m
	default:
		return msg
	}
}

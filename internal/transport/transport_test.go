package transport

import (
	"reflect"
	"testing"
	"time"

	"github.com/ringkv/ringkv/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []types.Message{
		types.JoinRequest{SenderID: 1, SenderHandle: types.PeerHandle{NodeID: 1, Address: "a"}},
		types.NodesList{SenderID: 1, Nodes: map[types.NodeID]types.PeerHandle{1: {NodeID: 1, Address: "a"}}},
		types.DataRequest{SenderID: 2, SenderHandle: types.PeerHandle{NodeID: 2, Address: "b"}},
		types.JoinData{SenderID: 2, Records: map[int64]types.VersionedItem{5: {Value: "x", Version: 1}}},
		types.Join{SenderID: 3, Handle: types.PeerHandle{NodeID: 3, Address: "c"}},
		types.ReJoin{SenderID: 3, Handle: types.PeerHandle{NodeID: 3, Address: "c"}},
		types.Leave{SenderID: 4},
		types.LeaveData{SenderID: 4, Records: map[int64]types.VersionedItem{1: {Value: "y", Version: 2}}},
		types.ReadRequest{CoordID: 5, ReqID: 7, Key: 9},
		types.ReadResponse{ReplicaID: 6, ReqID: 7, Key: 9, Item: types.VersionedItem{Value: "z", Version: 1}, Found: true},
		types.WriteRequest{CoordID: 5, ReqID: 7, Key: 9, Item: types.VersionedItem{Value: "z", Version: 1}},
	}

	for _, original := range cases {
		env, err := encode(original)
		if err != nil {
			t.Fatalf("encode(%T): %v", original, err)
		}
		decoded, err := decode(env)
		if err != nil {
			t.Fatalf("decode(%s): %v", env.Type, err)
		}
		if !reflect.DeepEqual(decoded, original) {
			t.Errorf("round trip mismatch for %T: got %+v, want %+v", original, decoded, original)
		}
	}
}

func TestDecodeUnknownTagErrors(t *testing.T) {
	if _, err := decode(envelope{Type: "bogus"}); err == nil {
		t.Error("expected error decoding unknown wire tag")
	}
}

func TestMemoryTransportDeliversToRegisteredAddress(t *testing.T) {
	mt := NewMemoryTransport()
	received := make(chan types.Message, 1)
	mt.Register("node-a", func(m types.Message) { received <- m })

	if err := mt.Send(types.PeerHandle{Address: "node-a"}, types.Leave{SenderID: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if l, ok := msg.(types.Leave); !ok || l.SenderID != 7 {
			t.Errorf("unexpected message delivered: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestMemoryTransportSendToUnknownAddressIsSilent(t *testing.T) {
	mt := NewMemoryTransport()
	if err := mt.Send(types.PeerHandle{Address: "nowhere"}, types.Leave{SenderID: 1}); err != nil {
		t.Errorf("Send to unregistered address should be absorbed silently, got %v", err)
	}
}

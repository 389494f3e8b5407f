package mesh

import (
	"encoding/json"
	"testing"
)

func TestValidMessageType(t *testing.T) {
	for _, mt := range []MessageType{
		TypeThoughtShare, TypeQuery, TypeResponse, TypeAcknowledgment, TypeSystemNotification,
	} {
		if !ValidMessageType(mt) {
			t.Errorf("expected %q to be valid", mt)
		}
	}
	if ValidMessageType("shout") {
		t.Error("expected unknown type to be invalid")
	}
	if ValidMessageType("") {
		t.Error("expected empty type to be invalid")
	}
}

func TestValidPriority(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		if !ValidPriority(p) {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if ValidPriority("critical") {
		t.Error("expected unknown priority to be invalid")
	}
}

func TestIsBroadcast(t *testing.T) {
	msg := Message{ToSession: BroadcastAll}
	if !msg.IsBroadcast() {
		t.Error("expected ALL target to be a broadcast")
	}
	msg.ToSession = "sess-1"
	if msg.IsBroadcast() {
		t.Error("expected named target not to be a broadcast")
	}
}

func TestDefaultProtocolPhaseOrder(t *testing.T) {
	proto := DefaultProtocol()
	want := []string{"GATHERING", "INTRODUCTION", "PRESENTATION", "DELIBERATION", "CONSENSUS"}
	if len(proto.Phases) != len(want) {
		t.Fatalf("expected %d phases, got %d", len(want), len(proto.Phases))
	}
	for i, name := range want {
		if proto.Phases[i].Name != name {
			t.Errorf("phase %d: expected %s, got %s", i, name, proto.Phases[i].Name)
		}
	}
}

func TestDefaultProtocolIsIndependentPerCall(t *testing.T) {
	a := DefaultProtocol()
	a.Phases[0].Name = "MUTATED"
	b := DefaultProtocol()
	if b.Phases[0].Name != "GATHERING" {
		t.Error("expected each call to return an independent protocol")
	}
}

func TestMessageJSONShape(t *testing.T) {
	msg := Message{
		ID:              "msg-1",
		MessageType:     TypeQuery,
		Content:         "anyone holding the lease?",
		FromSession:     "sess-a",
		ToSession:       BroadcastAll,
		ParticipantName: "athena",
		Priority:        PriorityHigh,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["messageType"] != "query" {
		t.Errorf("expected messageType key, got %v", decoded)
	}
	if decoded["toSession"] != "ALL" {
		t.Errorf("expected toSession ALL, got %v", decoded["toSession"])
	}
}

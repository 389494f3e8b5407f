package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

type stubTransport struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *stubTransport) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("transport closed")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *stubTransport) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(Options{
		SweepInterval:  30 * time.Second,
		StaleThreshold: 60 * time.Second,
		Clock:          func() time.Time { return now },
	})
	return r, &now
}

func TestRegisterNotifiesOthers(t *testing.T) {
	r, _ := newTestRegistry()
	ta := &stubTransport{}
	tb := &stubTransport{}

	_, count := r.Register("sess-a", "athena", []string{"planning"}, ta)
	if count != 1 {
		t.Errorf("expected presence count 1, got %d", count)
	}

	_, count = r.Register("sess-b", "boreas", nil, tb)
	if count != 2 {
		t.Errorf("expected presence count 2, got %d", count)
	}

	joins := ta.byType(EventJoin)
	if len(joins) != 1 || joins[0].SessionID != "sess-b" {
		t.Errorf("expected A to see B's join, got %+v", joins)
	}
	if got := tb.byType(EventJoin); len(got) != 0 {
		t.Errorf("expected B not to be notified of its own join, got %+v", got)
	}
}

func TestRegisterReplacesPriorMapping(t *testing.T) {
	r, _ := newTestRegistry()
	t1 := &stubTransport{}
	t2 := &stubTransport{}

	conn1, _ := r.Register("sess-a", "athena", nil, t1)
	conn2, count := r.Register("sess-a", "athena", nil, t2)

	if count != 1 {
		t.Errorf("re-registration must not grow presence, got count %d", count)
	}
	if r.PresenceCount() != 1 {
		t.Errorf("expected a single presence entry, got %d", r.PresenceCount())
	}

	// The stale connection is gone; only the new one subscribes.
	if err := r.Subscribe(conn1, nil, nil); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("expected replaced connection to be unknown, got %v", err)
	}
	if err := r.Subscribe(conn2, nil, nil); err != nil {
		t.Errorf("expected new connection to subscribe, got %v", err)
	}
}

func TestDisconnectLeavesOtherPresenceIntact(t *testing.T) {
	r, _ := newTestRegistry()
	ta := &stubTransport{}
	tb := &stubTransport{}

	connA, _ := r.Register("sess-a", "athena", nil, ta)
	r.Register("sess-b", "boreas", nil, tb)

	// The registry holds no reference to the durable stores at all, so
	// disconnect cannot delete history; only ephemeral state changes.
	r.Disconnect(connA)

	if r.IsOnline("sess-a") {
		t.Error("expected sess-a to be offline")
	}
	if !r.IsOnline("sess-b") {
		t.Error("expected sess-b to remain online")
	}

	leaves := tb.byType(EventLeave)
	if len(leaves) != 1 || leaves[0].SessionID != "sess-a" {
		t.Errorf("expected exactly one offline notification for sess-a, got %+v", leaves)
	}
}

func TestHeartbeat(t *testing.T) {
	r, now := newTestRegistry()
	ta := &stubTransport{}
	tb := &stubTransport{}

	r.Register("sess-a", "athena", nil, ta)
	r.Register("sess-b", "boreas", nil, tb)

	*now = now.Add(10 * time.Second)
	if err := r.Heartbeat("sess-a", StatusBusy); err != nil {
		t.Fatal(err)
	}

	events := tb.byType(EventStatus)
	if len(events) != 1 || events[0].Status != StatusBusy {
		t.Errorf("expected B to see A's busy status, got %+v", events)
	}
	if got := ta.byType(EventStatus); len(got) != 0 {
		t.Errorf("expected A not to receive its own status event, got %+v", got)
	}

	// Plain online heartbeats are silent.
	if err := r.Heartbeat("sess-a", StatusOnline); err != nil {
		t.Fatal(err)
	}
	if got := tb.byType(EventStatus); len(got) != 1 {
		t.Errorf("expected no event for an online heartbeat, got %+v", got)
	}

	if err := r.Heartbeat("sess-z", StatusOnline); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestStaleSweep(t *testing.T) {
	r, now := newTestRegistry()
	ta := &stubTransport{}
	tb := &stubTransport{}

	r.Register("sess-a", "athena", nil, ta)
	r.Register("sess-b", "boreas", nil, tb)

	*now = now.Add(45 * time.Second)
	if err := r.Heartbeat("sess-b", StatusOnline); err != nil {
		t.Fatal(err)
	}

	// A's heartbeat is now 75s old, past the 60s threshold; B's is fresh.
	*now = now.Add(30 * time.Second)
	if removed := r.SweepStale(); removed != 1 {
		t.Fatalf("expected exactly one stale connection, got %d", removed)
	}

	if r.IsOnline("sess-a") {
		t.Error("expected stale sess-a to be disconnected")
	}
	if !r.IsOnline("sess-b") {
		t.Error("expected fresh sess-b to survive the sweep")
	}

	leaves := tb.byType(EventLeave)
	if len(leaves) != 1 || leaves[0].SessionID != "sess-a" {
		t.Errorf("expected exactly one offline notification, got %+v", leaves)
	}

	// A second sweep finds nothing new.
	if removed := r.SweepStale(); removed != 0 {
		t.Errorf("expected idempotent sweep, removed %d", removed)
	}
}

func TestSweepKeepsActivelyHeartbeatingConnection(t *testing.T) {
	// Staleness is re-evaluated and removal performed in one critical
	// section, so a connection that keeps heartbeating while sweeps run
	// concurrently is never force-disconnected.
	r := NewRegistry(Options{
		SweepInterval:  time.Hour, // sweeps driven manually below
		StaleThreshold: 250 * time.Millisecond,
	})
	tr := &stubTransport{}
	r.Register("sess-a", "athena", nil, tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := r.Heartbeat("sess-a", StatusOnline); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 20; i++ {
		if removed := r.SweepStale(); removed != 0 {
			t.Fatalf("sweep %d removed a live connection", i)
		}
		time.Sleep(2 * time.Millisecond)
	}
	<-done

	if !r.IsOnline("sess-a") {
		t.Error("expected heartbeating session to stay online")
	}
}

func TestPushMessageBroadcastAndTargeted(t *testing.T) {
	r, _ := newTestRegistry()
	ta := &stubTransport{}
	tb := &stubTransport{}
	tc := &stubTransport{}

	connA, _ := r.Register("sess-a", "athena", nil, ta)
	connB, _ := r.Register("sess-b", "boreas", nil, tb)
	r.Register("sess-c", "chronos", nil, tc) // never subscribes

	if err := r.Subscribe(connA, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(connB, []mesh.MessageType{mesh.TypeQuery}, nil); err != nil {
		t.Fatal(err)
	}

	msg := &mesh.Message{
		ID:          "m1",
		MessageType: mesh.TypeThoughtShare,
		Content:     "broadcast to everyone",
		FromSession: "sess-a",
		ToSession:   mesh.BroadcastAll,
		Priority:    mesh.PriorityMedium,
	}
	r.PushMessage(msg)
	if msg.ReadBy == nil {
		t.Error("expected PushMessage to initialize readBy")
	}

	// Declared filters are advisory: B subscribed for queries but still
	// receives the thought_share.
	if got := tb.byType(EventMeshMessage); len(got) != 1 || got[0].Delivery != "broadcast" {
		t.Errorf("expected one broadcast delivery to B, got %+v", got)
	}
	if got := tc.byType(EventMeshMessage); len(got) != 0 {
		t.Errorf("expected unsubscribed C to receive nothing, got %+v", got)
	}

	direct := &mesh.Message{
		ID:          "m2",
		MessageType: mesh.TypeQuery,
		Content:     "direct question for B",
		FromSession: "sess-a",
		ToSession:   "sess-b",
		Priority:    mesh.PriorityHigh,
	}
	r.PushMessage(direct)

	var deliveries []string
	for _, ev := range tb.byType(EventMeshMessage) {
		if ev.Message.ID == "m2" {
			deliveries = append(deliveries, ev.Delivery)
		}
	}
	if len(deliveries) != 2 || deliveries[0] != "broadcast" || deliveries[1] != "targeted" {
		t.Errorf("expected broadcast plus targeted delivery to B, got %v", deliveries)
	}
}

func TestPushMessageFailureIsolation(t *testing.T) {
	r, _ := newTestRegistry()
	bad := &stubTransport{fail: true}
	good := &stubTransport{}

	connA, _ := r.Register("sess-a", "athena", nil, bad)
	connB, _ := r.Register("sess-b", "boreas", nil, good)
	if err := r.Subscribe(connA, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(connB, nil, nil); err != nil {
		t.Fatal(err)
	}

	delivered := r.PushMessage(&mesh.Message{
		ID:        "m1",
		Content:   "still reaches the healthy peer",
		ToSession: mesh.BroadcastAll,
	})
	if delivered != 1 {
		t.Errorf("expected delivery to the healthy transport only, got %d", delivered)
	}
	if got := good.byType(EventMeshMessage); len(got) != 1 {
		t.Errorf("expected B to receive the message, got %+v", got)
	}
}

func TestRegisterWithoutTransport(t *testing.T) {
	r, _ := newTestRegistry()

	connID, count := r.RegisterWithoutTransport("sess-vtool", "hermes", []string{"proxy"})
	if count != 1 {
		t.Errorf("expected presence count 1, got %d", count)
	}
	if !r.IsOnline("sess-vtool") {
		t.Error("expected out-of-band registration to appear online")
	}

	// The no-op transport participates in the broadcast group like any
	// other connection.
	if err := r.Subscribe(connID, nil, nil); err != nil {
		t.Fatal(err)
	}
	delivered := r.PushMessage(&mesh.Message{ID: "m1", ToSession: mesh.BroadcastAll})
	if delivered != 1 {
		t.Errorf("expected no-op transport to accept delivery, got %d", delivered)
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ParticipantName != "hermes" {
		t.Errorf("expected hermes in discovery snapshot, got %+v", snap)
	}
}

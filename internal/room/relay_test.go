package room

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dmaretti/crewdeck/internal/queue"
)

func TestParseInboundChat(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"room:chat","sender":"dana","text":"hello crew"}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if msg.Sender != "dana" || msg.Text != "hello crew" {
		t.Fatalf("parsed = %+v", msg)
	}
	if msg.Kind != queue.RoomKindChat {
		t.Fatalf("kind = %q, want chat", msg.Kind)
	}
}

func TestParseInboundAgentPrefix(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"room:chat","sender":"relay","text":"::agent:: deploy finished"}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if msg.Kind != queue.RoomKindAgent {
		t.Fatalf("kind = %q, want agent", msg.Kind)
	}
	if msg.Text != "deploy finished" {
		t.Fatalf("prefix not stripped: %q", msg.Text)
	}
}

func TestParseInboundRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"bad json":    `{"type":`,
		"wrong type":  `{"type":"task:approve","sender":"dana","text":"x"}`,
		"no sender":   `{"type":"room:chat","text":"x"}`,
		"no text":     `{"type":"room:chat","sender":"dana","text":"  "}`,
		"prefix only": `{"type":"room:chat","sender":"dana","text":"::agent::"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseInbound([]byte(raw)); err == nil {
				t.Fatalf("accepted %s payload", name)
			}
		})
	}
}

func TestPumpDropsPeerWhenSendFails(t *testing.T) {
	store := queue.NewStore()
	defer store.Close()
	relay := NewRelay(store, "stun:stun.l.google.com:19302")
	defer relay.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	p := &peer{id: "flaky", connection: pc}
	relay.mu.Lock()
	relay.peers[p.id] = p
	relay.mu.Unlock()

	store.AppendRoomMessage(queue.RoomMessage{Sender: "dana", Text: "hello crew"})
	_, backlog, events, cancel := store.SubscribeWithSnapshot()
	p.cancelSub = cancel

	relay.pump(p, backlog, events, func(queue.RoomMessage) bool { return false })

	if n := relay.ActivePeers(); n != 0 {
		t.Fatalf("ActivePeers = %d after failed send, want 0", n)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("subscription still delivering after drop")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not cancelled after failed send")
	}
}

func TestAnswerRejectsEmptyOffer(t *testing.T) {
	store := queue.NewStore()
	defer store.Close()
	relay := NewRelay(store, "stun:stun.l.google.com:19302")
	defer relay.Close()

	if _, err := relay.Answer(t.Context(), "  "); err == nil {
		t.Fatalf("empty offer accepted")
	}
}

func TestAnswerAfterClose(t *testing.T) {
	store := queue.NewStore()
	defer store.Close()
	relay := NewRelay(store, "stun:stun.l.google.com:19302")
	relay.Close()

	if _, err := relay.Answer(t.Context(), "v=0"); err != ErrRelayClosed {
		t.Fatalf("err = %v, want ErrRelayClosed", err)
	}
}

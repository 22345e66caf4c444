package hub

import (
	"testing"
	"time"

	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
)

func newTestHub(t *testing.T) (*queue.Store, *Hub) {
	t.Helper()
	store := queue.NewStore()
	t.Cleanup(store.Close)
	return store, New(store, queue.NewGate(store))
}

func nextMessage(t *testing.T, s *Session) any {
	t.Helper()
	select {
	case msg, ok := <-s.Outbound():
		if !ok {
			t.Fatalf("session outbound closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session message")
		return nil
	}
}

func TestHubConnectDeliversSnapshotFirst(t *testing.T) {
	store, h := newTestHub(t)

	a, _ := store.CreateTask(queue.Payload{Tool: "read_file"})
	if _, err := store.Resolve(a.ID, queue.DecisionApproved, "earlier-client"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	store.AppendRoomMessage(queue.RoomMessage{Sender: "peer", Text: "hi"})

	s := h.Connect()
	defer h.Disconnect(s)

	snap, ok := nextMessage(t, s).(protocol.Snapshot)
	if !ok {
		t.Fatalf("first message is not a snapshot")
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Status != queue.StatusApproved {
		t.Fatalf("snapshot tasks = %+v, want the approved task", snap.Tasks)
	}
	if len(snap.RoomMessages) != 1 {
		t.Fatalf("snapshot room messages = %d, want 1", len(snap.RoomMessages))
	}

	// Mutations after connect arrive as live events, in order.
	b, _ := store.CreateTask(queue.Payload{Tool: "run_command"})
	created, ok := nextMessage(t, s).(protocol.TaskEvent)
	if !ok || created.Type != protocol.TypeTaskCreated || created.Task.ID != b.ID {
		t.Fatalf("live event = %+v, want task:created for %s", created, b.ID)
	}
}

func TestHubDecisionFansOutToAllSessions(t *testing.T) {
	store, h := newTestHub(t)

	alice := h.Connect()
	defer h.Disconnect(alice)
	bob := h.Connect()
	defer h.Disconnect(bob)
	nextMessage(t, alice)
	nextMessage(t, bob)

	task, _ := store.CreateTask(queue.Payload{Tool: "write_file"})
	nextMessage(t, alice)
	nextMessage(t, bob)

	h.Decide(alice, protocol.TaskDecision{Type: protocol.TypeTaskApprove, TaskID: task.ID})

	for _, s := range []*Session{alice, bob} {
		evt, ok := nextMessage(t, s).(protocol.TaskEvent)
		if !ok || evt.Type != protocol.TypeTaskUpdate {
			t.Fatalf("message = %+v, want task:update", evt)
		}
		if evt.Task.Status != queue.StatusApproved || evt.Task.ResolvedBy != alice.ID {
			t.Fatalf("task = %+v, want approved by %s", evt.Task, alice.ID)
		}
	}
}

// Two sessions race with opposite verdicts: one is recorded, and both
// converge on it via broadcast rather than diverging local views.
func TestHubRacingDecisionsConverge(t *testing.T) {
	store, h := newTestHub(t)

	alice := h.Connect()
	defer h.Disconnect(alice)
	bob := h.Connect()
	defer h.Disconnect(bob)
	nextMessage(t, alice)
	nextMessage(t, bob)

	task, _ := store.CreateTask(queue.Payload{Tool: "run_command"})
	nextMessage(t, alice)
	nextMessage(t, bob)

	h.Decide(alice, protocol.TaskDecision{Type: protocol.TypeTaskApprove, TaskID: task.ID})
	h.Decide(bob, protocol.TaskDecision{Type: protocol.TypeTaskReject, TaskID: task.ID})

	// Winner's update, then the corrective update for the loser. Each
	// session applies both idempotently and lands on the same record.
	for _, s := range []*Session{alice, bob} {
		var last protocol.TaskEvent
		for i := 0; i < 2; i++ {
			evt, ok := nextMessage(t, s).(protocol.TaskEvent)
			if !ok || evt.Type != protocol.TypeTaskUpdate {
				t.Fatalf("message = %+v, want task:update", evt)
			}
			last = evt
		}
		if last.Task.Status != queue.StatusApproved || last.Task.ResolvedBy != alice.ID {
			t.Fatalf("session %s converged on %+v, want approved by %s", s.ID, last.Task, alice.ID)
		}
	}

	final, _ := store.Get(task.ID)
	if final.Status != queue.StatusApproved || final.ResolvedBy != alice.ID {
		t.Fatalf("store record = %+v, want approved by %s", final, alice.ID)
	}
}

func TestHubDecisionErrorsGoToSenderOnly(t *testing.T) {
	_, h := newTestHub(t)

	alice := h.Connect()
	defer h.Disconnect(alice)
	bob := h.Connect()
	defer h.Disconnect(bob)
	nextMessage(t, alice)
	nextMessage(t, bob)

	h.Decide(alice, protocol.TaskDecision{Type: protocol.TypeTaskApprove, TaskID: "missing"})

	errEvt, ok := nextMessage(t, alice).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("alice message = %T, want ErrorEvent", errEvt)
	}
	if errEvt.Code != "task_not_found" {
		t.Fatalf("code = %q, want task_not_found", errEvt.Code)
	}

	select {
	case msg := <-bob.Outbound():
		t.Fatalf("bob received %+v for a request that changed nothing", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDisconnectLeavesStoreUntouched(t *testing.T) {
	store, h := newTestHub(t)

	s := h.Connect()
	nextMessage(t, s)
	task, _ := store.CreateTask(queue.Payload{Tool: "read_file"})
	nextMessage(t, s)

	h.Disconnect(s)
	if h.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d after disconnect, want 0", h.ActiveCount())
	}

	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %q after disconnect, want still pending", got.Status)
	}

	// A reconnect sees the same pending task in its snapshot.
	again := h.Connect()
	defer h.Disconnect(again)
	snap := nextMessage(t, again).(protocol.Snapshot)
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != task.ID {
		t.Fatalf("resync snapshot = %+v, want the pending task", snap.Tasks)
	}
}

func TestHubBroadcastReachesEverySession(t *testing.T) {
	_, h := newTestHub(t)

	alice := h.Connect()
	defer h.Disconnect(alice)
	bob := h.Connect()
	defer h.Disconnect(bob)
	nextMessage(t, alice)
	nextMessage(t, bob)

	h.Broadcast(protocol.AgentDelta{Type: protocol.TypeAgentDelta, TurnID: "turn-1", TextDelta: "thinking"})

	for _, s := range []*Session{alice, bob} {
		delta, ok := nextMessage(t, s).(protocol.AgentDelta)
		if !ok || delta.TextDelta != "thinking" {
			t.Fatalf("message = %+v, want the agent delta", delta)
		}
	}
}

func TestHubTracksSeenTasks(t *testing.T) {
	store, h := newTestHub(t)

	before, _ := store.CreateTask(queue.Payload{Tool: "read_file"})

	s := h.Connect()
	defer h.Disconnect(s)
	nextMessage(t, s)

	after, _ := store.CreateTask(queue.Payload{Tool: "run_command"})
	nextMessage(t, s)

	seen := make(map[string]bool)
	for _, id := range s.SeenTasks() {
		seen[id] = true
	}
	if !seen[before.ID] || !seen[after.ID] {
		t.Fatalf("seen = %v, want both %s and %s", seen, before.ID, after.ID)
	}
}

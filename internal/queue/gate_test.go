package queue

import (
	"testing"
)

func TestGateApprove(t *testing.T) {
	s := NewStore()
	defer s.Close()
	g := NewGate(s)

	task, _ := s.CreateTask(Payload{Tool: "run_command"})
	resolved, err := g.Decide(task.ID, DecisionApproved, "client-a")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if resolved.Status != StatusApproved || resolved.ResolvedBy != "client-a" {
		t.Fatalf("resolved = %+v, want approved by client-a", resolved)
	}
}

func TestGateInvalidDecisionTouchesNothing(t *testing.T) {
	s := NewStore()
	defer s.Close()
	g := NewGate(s)

	task, _ := s.CreateTask(Payload{Tool: "run_command"})

	_, _, events, cancel := s.SubscribeWithSnapshot()
	defer cancel()

	if _, err := g.Decide(task.ID, Decision("shrug"), "client-a"); err != ErrInvalidDecision {
		t.Fatalf("Decide(bad) error = %v, want %v", err, ErrInvalidDecision)
	}
	got, _ := s.Get(task.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %q after invalid decision, want pending", got.Status)
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected broadcast %+v for rejected request", evt)
	default:
	}
}

func TestGateUnknownTask(t *testing.T) {
	s := NewStore()
	defer s.Close()
	g := NewGate(s)

	if _, err := g.Decide("missing", DecisionApproved, "client-a"); err != ErrNotFound {
		t.Fatalf("Decide(unknown) error = %v, want %v", err, ErrNotFound)
	}
	if _, err := g.Decide("", DecisionApproved, "client-a"); err != ErrNotFound {
		t.Fatalf("Decide(empty id) error = %v, want %v", err, ErrNotFound)
	}
}

// A losing decision is silently reconciled: the loser gets the winner's
// record with no error, and every subscriber receives a corrective update
// carrying that same record.
func TestGateLosingDecisionConverges(t *testing.T) {
	s := NewStore()
	defer s.Close()
	g := NewGate(s)

	task, _ := s.CreateTask(Payload{Tool: "write_file"})

	winner, err := g.Decide(task.ID, DecisionApproved, "client-a")
	if err != nil {
		t.Fatalf("winning Decide() error = %v", err)
	}

	_, _, events, cancel := s.SubscribeWithSnapshot()
	defer cancel()

	loser, err := g.Decide(task.ID, DecisionRejected, "client-b")
	if err != nil {
		t.Fatalf("losing Decide() error = %v, want silent reconciliation", err)
	}
	if loser.Status != winner.Status || loser.ResolvedBy != winner.ResolvedBy {
		t.Fatalf("loser sees %+v, want winner's record %+v", loser, winner)
	}

	evt := waitEvent(t, events)
	if evt.Type != EventTaskUpdated {
		t.Fatalf("corrective event type = %q, want task:update", evt.Type)
	}
	if evt.Task == nil || evt.Task.Status != StatusApproved || evt.Task.ResolvedBy != "client-a" {
		t.Fatalf("corrective event task = %+v, want the winner's record", evt.Task)
	}
}

package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDone     Status = "done"
)

// Decision is a terminal verdict a connected client may record for a
// pending task.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Payload describes the action the agent wants to run. The queue never
// interprets it; only the agent bridge does.
type Payload struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Task is one proposed tool invocation held for a human verdict.
type Task struct {
	ID         string    `json:"id"`
	Payload    Payload   `json:"payload"`
	Status     Status    `json:"status"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Payload.Input != nil {
		out.Payload.Input = append(json.RawMessage(nil), t.Payload.Input...)
	}
	return out
}

// Terminal reports whether the task can no longer change status
// (done, or rejected which has no further transition).
func (t Task) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusRejected
}

// Resolved reports whether the task has left pending.
func (t Task) Resolved() bool {
	return t.Status != StatusPending
}

const (
	RoomKindChat  = "chat"
	RoomKindAgent = "agent"
)

// RoomMessage is one chat line relayed from a collaborator's side
// channel. Append-only; never mutated after storage.
type RoomMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Kind   string    `json:"kind"`
	TS     time.Time `json:"ts"`
}

type EventType string

const (
	EventTaskCreated EventType = "task:created"
	EventTaskUpdated EventType = "task:update"
	EventRoomChat    EventType = "room:chat"
)

// Event is one ordered store notification. Task events carry the full
// resulting record so receivers can apply them idempotently.
type Event struct {
	Type EventType    `json:"type"`
	Task *Task        `json:"task,omitempty"`
	Room *RoomMessage `json:"message,omitempty"`
	At   time.Time    `json:"at"`
}

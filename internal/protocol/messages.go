package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmaretti/crewdeck/internal/queue"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client to server.
	TypeTaskApprove MessageType = "task:approve"
	TypeTaskReject  MessageType = "task:reject"
	TypeChatSend    MessageType = "chat:send"

	// Server to client.
	TypeSnapshot    MessageType = "snapshot"
	TypeTaskCreated MessageType = "task:created"
	TypeTaskUpdate  MessageType = "task:update"
	TypeRoomChat    MessageType = "room:chat"
	TypeAgentDelta  MessageType = "agent:delta"
	TypeAgentDone   MessageType = "agent:done"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TaskDecision asks the server to record a verdict for one task. The
// server never replies directly; the client learns the outcome from the
// broadcast stream.
type TaskDecision struct {
	Type   MessageType `json:"type"`
	TaskID string      `json:"task_id"`
}

// ChatSend carries a user prompt for the agent conversation loop.
type ChatSend struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// Snapshot seeds a newly connected client with the full store contents.
type Snapshot struct {
	Type         MessageType         `json:"type"`
	Tasks        []queue.Task        `json:"tasks"`
	RoomMessages []queue.RoomMessage `json:"room_messages"`
}

// TaskEvent carries the full resulting task record for created/update
// events; receiving the same event twice leaves a client unchanged.
type TaskEvent struct {
	Type MessageType `json:"type"`
	Task queue.Task  `json:"task"`
}

type RoomChat struct {
	Type    MessageType       `json:"type"`
	Message queue.RoomMessage `json:"message"`
}

type AgentDelta struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AgentDone struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason,omitempty"`
}

// ErrorEvent is sent to the originating client only; the broadcast stream
// never carries errors for requests that changed nothing.
type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// ParseClientMessage decodes and validates one inbound client frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTaskApprove, TypeTaskReject:
		var msg TaskDecision
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.TaskID == "" {
			return nil, errors.New("task decision requires task_id")
		}
		return msg, nil
	case TypeChatSend:
		var msg ChatSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("chat:send requires text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes one frame of the broadcast stream. Used by
// non-browser clients that mirror the dashboard state.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSnapshot:
		var msg Snapshot
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTaskCreated, TypeTaskUpdate:
		var msg TaskEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Task.ID == "" {
			return nil, errors.New("task event requires task.id")
		}
		return msg, nil
	case TypeRoomChat:
		var msg RoomChat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentDelta:
		var msg AgentDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentDone:
		var msg AgentDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeErrorEvent:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Decision maps a task decision message onto the store's verdict type.
func (m TaskDecision) Decision() queue.Decision {
	if m.Type == TypeTaskApprove {
		return queue.DecisionApproved
	}
	return queue.DecisionRejected
}

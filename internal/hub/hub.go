package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
)

const sessionOutboundBuffer = 256

// Session is one connected browser tab. It holds no authority over the
// store beyond issuing decisions; its only state is the outbound queue
// and the set of task ids it has been shown.
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu     sync.Mutex
	out    chan any
	seen   map[string]struct{}
	closed bool

	cancelSub func()
}

// Outbound returns the ordered stream of messages for this session. The
// channel is closed when the session is disconnected.
func (s *Session) Outbound() <-chan any {
	return s.out
}

// SeenTasks returns the ids of tasks delivered to this session.
func (s *Session) SeenTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.seen))
	for id := range s.seen {
		out = append(out, id)
	}
	return out
}

// trySend enqueues without blocking. False means the session is gone or
// saturated; the caller drops it either way.
func (s *Session) trySend(msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) markSeen(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.seen[taskID] = struct{}{}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Hub fans every store mutation out to all connected sessions and routes
// inbound decisions through the gate. Each session rides its own store
// subscription, so its event order always matches mutation order; a
// session that cannot keep up is dropped and heals itself by
// reconnecting for a fresh snapshot.
type Hub struct {
	store *queue.Store
	gate  *queue.Gate

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(store *queue.Store, gate *queue.Gate) *Hub {
	return &Hub{
		store:    store,
		gate:     gate,
		sessions: make(map[string]*Session),
	}
}

// Connect registers a new session. The snapshot is enqueued before any
// live event, so the client starts consistent with the store no matter
// how many mutations happened while it was away.
func (h *Hub) Connect() *Session {
	tasks, room, events, cancel := h.store.SubscribeWithSnapshot()

	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		out:         make(chan any, sessionOutboundBuffer),
		seen:        make(map[string]struct{}),
		cancelSub:   cancel,
	}
	s.out <- protocol.Snapshot{
		Type:         protocol.TypeSnapshot,
		Tasks:        tasks,
		RoomMessages: room,
	}
	for _, task := range tasks {
		s.seen[task.ID] = struct{}{}
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	go h.pump(s, events)
	return s
}

// Disconnect removes the session. Store contents are untouched: pending
// tasks stay pending whether or not anyone is watching.
func (h *Hub) Disconnect(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	s.cancelSub()
	s.close()
}

// Decide applies a client verdict. Validation failures go back to this
// session only; every state outcome, including a lost race, reaches all
// sessions through the broadcast stream instead of a direct reply.
func (h *Hub) Decide(s *Session, msg protocol.TaskDecision) {
	_, err := h.gate.Decide(msg.TaskID, msg.Decision(), s.ID)
	if err == nil {
		return
	}

	code := "decision_failed"
	switch {
	case errors.Is(err, queue.ErrNotFound):
		code = "task_not_found"
	case errors.Is(err, queue.ErrInvalidDecision):
		code = "invalid_decision"
	}
	s.trySend(protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   code,
		Detail: err.Error(),
	})
}

// Notify sends a message to one session only.
func (h *Hub) Notify(s *Session, msg any) {
	if !s.trySend(msg) {
		h.Disconnect(s)
	}
}

// Broadcast sends a non-store message (agent deltas, turn ends) to every
// session. Saturated sessions are dropped, never waited on.
func (h *Hub) Broadcast(msg any) {
	for _, s := range h.snapshotSessions() {
		if !s.trySend(msg) {
			h.Disconnect(s)
		}
	}
}

// ActiveCount reports the number of connected sessions.
func (h *Hub) ActiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshotSessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) pump(s *Session, events <-chan queue.Event) {
	for evt := range events {
		msg := toMessage(evt)
		if msg == nil {
			continue
		}
		if !s.trySend(msg) {
			h.Disconnect(s)
			return
		}
		if evt.Task != nil {
			s.markSeen(evt.Task.ID)
		}
	}
	// Store subscription ended (store closed or subscriber shed).
	h.Disconnect(s)
}

func toMessage(evt queue.Event) any {
	switch evt.Type {
	case queue.EventTaskCreated:
		return protocol.TaskEvent{Type: protocol.TypeTaskCreated, Task: *evt.Task}
	case queue.EventTaskUpdated:
		return protocol.TaskEvent{Type: protocol.TypeTaskUpdate, Task: *evt.Task}
	case queue.EventRoomChat:
		return protocol.RoomChat{Type: protocol.TypeRoomChat, Message: *evt.Room}
	default:
		return nil
	}
}

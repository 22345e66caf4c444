package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrAlreadyResolved   = errors.New("task already resolved")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("store closed")
	ErrNoArchive         = errors.New("no task archive configured")
)

const subscriberBuffer = 256

// Store holds the canonical task set and the room-message log for one
// server process. All mutation goes through its methods; subscribers are
// notified under the same lock that applied the mutation, so every
// subscriber channel observes events in mutation order.
type Store struct {
	mu sync.RWMutex

	tasks map[string]*Task
	order []string
	room  []RoomMessage

	waiters map[string][]chan Task

	subscribers map[int]chan Event
	nextSubID   int

	archive Archive
	closed  bool
}

func NewStore() *Store {
	return &Store{
		tasks:       make(map[string]*Task),
		waiters:     make(map[string][]chan Task),
		subscribers: make(map[int]chan Event),
	}
}

// SetArchive attaches an optional write-behind archive. The archive is
// never read back into the live set; a restart starts empty.
func (s *Store) SetArchive(a Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
}

// History reads back archived task records, newest first, up to limit.
// Returns ErrNoArchive when no archive is attached; the live set never
// answers history queries.
func (s *Store) History(ctx context.Context, limit int) ([]Task, error) {
	s.mu.RLock()
	a := s.archive
	s.mu.RUnlock()
	if a == nil {
		return nil, ErrNoArchive
	}
	return a.ListTasks(ctx, limit)
}

// CreateTask allocates a pending task for the given payload and notifies
// all subscribers.
func (s *Store) CreateTask(payload Payload) (Task, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Task{}, ErrClosed
	}

	task := &Task{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	snapshot := task.Clone()
	s.publishLocked(Event{Type: EventTaskCreated, Task: &snapshot, At: now})
	s.persistTask(snapshot)
	return task.Clone(), nil
}

// Resolve records a terminal verdict for a pending task. It is a
// compare-and-set on status: of two concurrent attempts exactly one
// succeeds; the other gets the current unchanged record and
// ErrAlreadyResolved.
func (s *Store) Resolve(taskID string, decision Decision, clientID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if decision != DecisionApproved && decision != DecisionRejected {
		return Task{}, ErrInvalidDecision
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusPending {
		return task.Clone(), ErrAlreadyResolved
	}

	task.Status = Status(decision)
	task.ResolvedBy = clientID
	task.UpdatedAt = now

	snapshot := task.Clone()
	s.publishLocked(Event{Type: EventTaskUpdated, Task: &snapshot, At: now})
	s.notifyWaitersLocked(taskID, snapshot)
	s.persistTask(snapshot)
	return snapshot, nil
}

// MarkDone records that an approved task's action finished executing.
// Whether the execution itself succeeded is not the queue's concern.
func (s *Store) MarkDone(taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusApproved {
		return task.Clone(), ErrInvalidTransition
	}

	task.Status = StatusDone
	task.UpdatedAt = now

	snapshot := task.Clone()
	s.publishLocked(Event{Type: EventTaskUpdated, Task: &snapshot, At: now})
	s.persistTask(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of one task.
func (s *Store) Get(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task.Clone(), nil
}

// List returns all tasks in creation order.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *Store) listLocked() []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// AppendRoomMessage appends one relayed chat line and notifies
// subscribers. The log is never mutated, only extended.
func (s *Store) AppendRoomMessage(msg RoomMessage) RoomMessage {
	if msg.TS.IsZero() {
		msg.TS = time.Now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = RoomKindChat
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = append(s.room, msg)

	stored := msg
	s.publishLocked(Event{Type: EventRoomChat, Room: &stored, At: msg.TS})
	s.persistRoomMessage(stored)
	return stored
}

func (s *Store) ListRoomMessages() []RoomMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRoomLocked()
}

func (s *Store) listRoomLocked() []RoomMessage {
	out := make([]RoomMessage, len(s.room))
	copy(out, s.room)
	return out
}

// SubscribeWithSnapshot atomically returns the current store contents and
// an ordered event channel that carries every mutation after the
// snapshot. There is no gap and no overlap between the two. The returned
// cancel is idempotent.
func (s *Store) SubscribeWithSnapshot() ([]Task, []RoomMessage, <-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	tasks := s.listLocked()
	room := s.listRoomLocked()
	s.nextSubID++
	id := s.nextSubID
	if !s.closed {
		s.subscribers[id] = ch
	} else {
		close(ch)
	}
	s.mu.Unlock()

	return tasks, room, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// WaitResolution blocks until the task leaves pending, then returns the
// resolved record. Returns immediately when the task is already resolved.
func (s *Store) WaitResolution(ctx context.Context, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return Task{}, ErrNotFound
	}
	if task.Resolved() {
		out := task.Clone()
		s.mu.Unlock()
		return out, nil
	}
	if s.closed {
		s.mu.Unlock()
		return Task{}, ErrClosed
	}
	ch := make(chan Task, 1)
	s.waiters[taskID] = append(s.waiters[taskID], ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case resolved, ok := <-ch:
		if !ok {
			return Task{}, ErrClosed
		}
		return resolved, nil
	}
}

// Close stops the store. Pending tasks are dropped with the process; the
// store is not durable across restarts.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	for id, chans := range s.waiters {
		delete(s.waiters, id)
		for _, ch := range chans {
			close(ch)
		}
	}
}

// broadcastCurrent re-emits the canonical record for a task as a
// corrective update. Used when a resolution attempt lost the race: no
// state changed, but every client must still converge on the winner.
func (s *Store) broadcastCurrent(taskID string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return
	}
	snapshot := task.Clone()
	s.publishLocked(Event{Type: EventTaskUpdated, Task: &snapshot, At: now})
}

// publishLocked fans the event out to every subscriber. A subscriber
// whose buffer is full is closed and dropped rather than reordered or
// blocked on; the hub treats that as a lost connection and the client
// resyncs from a fresh snapshot on reconnect.
func (s *Store) publishLocked(evt Event) {
	for id, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			delete(s.subscribers, id)
			close(ch)
		}
	}
}

func (s *Store) notifyWaitersLocked(taskID string, resolved Task) {
	for _, ch := range s.waiters[taskID] {
		ch <- resolved
		close(ch)
	}
	delete(s.waiters, taskID)
}

func (s *Store) persistTask(task Task) {
	archive := s.archive
	if archive == nil {
		return
	}
	go func(snapshot Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = archive.SaveTask(ctx, snapshot)
	}(task)
}

func (s *Store) persistRoomMessage(msg RoomMessage) {
	archive := s.archive
	if archive == nil {
		return
	}
	go func(m RoomMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = archive.SaveRoomMessage(ctx, m)
	}(msg)
}

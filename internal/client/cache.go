package client

import (
	"sync"

	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
)

// Cache is a local mirror of the server's store, built strictly from
// broadcast events. It never originates a status change: user actions go
// out as requests, and the view moves only when the resulting event comes
// back. Applying the same event twice leaves the cache unchanged, since
// every task event carries the full record.
type Cache struct {
	mu    sync.RWMutex
	tasks map[string]queue.Task
	order []string
	room  []queue.RoomMessage
}

func NewCache() *Cache {
	return &Cache{tasks: make(map[string]queue.Task)}
}

// Apply folds one server message into the mirror. Unknown message kinds
// are ignored so protocol additions do not break older clients.
func (c *Cache) Apply(msg any) {
	switch m := msg.(type) {
	case protocol.Snapshot:
		c.mu.Lock()
		c.tasks = make(map[string]queue.Task, len(m.Tasks))
		c.order = c.order[:0]
		for _, task := range m.Tasks {
			c.tasks[task.ID] = task
			c.order = append(c.order, task.ID)
		}
		c.room = append([]queue.RoomMessage(nil), m.RoomMessages...)
		c.mu.Unlock()
	case protocol.TaskEvent:
		c.mu.Lock()
		if _, known := c.tasks[m.Task.ID]; !known {
			c.order = append(c.order, m.Task.ID)
		}
		if m.Type == protocol.TypeTaskCreated {
			// Insert only if absent; a duplicate created event must not
			// roll back a later update.
			if _, known := c.tasks[m.Task.ID]; !known {
				c.tasks[m.Task.ID] = m.Task
			}
		} else {
			c.tasks[m.Task.ID] = m.Task
		}
		c.mu.Unlock()
	case protocol.RoomChat:
		c.mu.Lock()
		c.room = append(c.room, m.Message)
		c.mu.Unlock()
	}
}

// Task returns one mirrored record.
func (c *Cache) Task(id string) (queue.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[id]
	return task, ok
}

// Tasks returns the mirrored task set in creation order.
func (c *Cache) Tasks() []queue.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]queue.Task, 0, len(c.order))
	for _, id := range c.order {
		if task, ok := c.tasks[id]; ok {
			out = append(out, task)
		}
	}
	return out
}

// Pending returns the mirrored tasks still awaiting a verdict.
func (c *Cache) Pending() []queue.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]queue.Task, 0, len(c.order))
	for _, id := range c.order {
		if task, ok := c.tasks[id]; ok && task.Status == queue.StatusPending {
			out = append(out, task)
		}
	}
	return out
}

// RoomMessages returns the mirrored room log.
func (c *Cache) RoomMessages() []queue.RoomMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]queue.RoomMessage, len(c.room))
	copy(out, c.room)
	return out
}

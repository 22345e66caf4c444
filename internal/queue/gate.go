package queue

import (
	"errors"
	"strings"

	"github.com/dmaretti/crewdeck/internal/observability"
)

// Gate sits between inbound client decisions and the store. It validates
// the request, applies it at most once, and guarantees that every
// outcome ends with all clients seeing the canonical record: a winning
// decision is broadcast by the store itself, a losing one triggers a
// corrective re-broadcast. A losing decision is a definitive no-op for
// its sender; it is never queued or retried.
type Gate struct {
	store   *Store
	metrics *observability.Metrics
}

func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// SetMetrics attaches decision instrumentation. Optional.
func (g *Gate) SetMetrics(m *observability.Metrics) {
	g.metrics = m
}

// Decide applies a client's verdict to a task and returns the resulting
// canonical record. NotFound and InvalidDecision are returned to the
// caller and change nothing; a lost race returns the winner's record with
// no error.
func (g *Gate) Decide(taskID string, decision Decision, clientID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, ErrNotFound
	}
	switch decision {
	case DecisionApproved, DecisionRejected:
	default:
		return Task{}, ErrInvalidDecision
	}

	task, err := g.store.Resolve(taskID, decision, clientID)
	if errors.Is(err, ErrAlreadyResolved) {
		if g.metrics != nil {
			g.metrics.DecisionRaces.Inc()
		}
		g.store.broadcastCurrent(taskID)
		return task, nil
	}
	if err == nil && g.metrics != nil {
		g.metrics.TaskEvents.WithLabelValues(string(task.Status)).Inc()
	}
	return task, err
}

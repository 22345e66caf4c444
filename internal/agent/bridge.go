package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dmaretti/crewdeck/internal/observability"
	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
)

const maxToolRounds = 8

// Broadcaster fans a server message out to every connected dashboard
// client. The hub implements it.
type Broadcaster interface {
	Broadcast(msg any)
}

// Bridge drives agent turns: it forwards operator chat to the provider,
// streams deltas back to the dashboard, and routes every tool call
// through the approval queue before execution.
type Bridge struct {
	provider Provider
	store    *queue.Store
	hub      Broadcaster
	exec     *Executor
	metrics  *observability.Metrics

	mu      sync.Mutex
	history []Message
}

func NewBridge(provider Provider, store *queue.Store, hub Broadcaster, exec *Executor, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		provider: provider,
		store:    store,
		hub:      hub,
		exec:     exec,
		metrics:  metrics,
	}
}

func (b *Bridge) ProviderName() string { return b.provider.Name() }

// HandleChat runs one full agent turn for an operator message. Turns are
// serialized so tool approvals from one turn cannot interleave with the
// next.
func (b *Bridge) HandleChat(ctx context.Context, sender, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty chat message")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.store.AppendRoomMessage(queue.RoomMessage{Sender: sender, Text: text, Kind: queue.RoomKindChat})
	b.history = append(b.history, Message{Role: "user", Content: text})

	turnID := uuid.NewString()
	reply, err := b.runTurn(ctx, turnID)

	reason := ""
	outcome := "ok"
	if err != nil {
		reason = err.Error()
		outcome = "error"
	}
	if b.metrics != nil {
		b.metrics.AgentTurns.WithLabelValues(b.provider.Name(), outcome).Inc()
	}
	b.hub.Broadcast(protocol.AgentDone{Type: protocol.TypeAgentDone, TurnID: turnID, Reason: reason})

	if err != nil {
		return err
	}
	if reply != "" {
		b.store.AppendRoomMessage(queue.RoomMessage{Sender: b.provider.Name(), Text: reply, Kind: queue.RoomKindAgent})
	}
	return nil
}

func (b *Bridge) runTurn(ctx context.Context, turnID string) (string, error) {
	onDelta := func(delta string) error {
		b.hub.Broadcast(protocol.AgentDelta{Type: protocol.TypeAgentDelta, TurnID: turnID, TextDelta: delta})
		return nil
	}

	var lastText string
	for round := 0; round < maxToolRounds; round++ {
		resp, err := b.provider.StreamTurn(ctx, TurnRequest{
			TurnID:   turnID,
			Messages: b.history,
			Tools:    BuiltinTools(),
		}, onDelta)
		if err != nil {
			return "", err
		}

		if resp.Text != "" {
			b.history = append(b.history, Message{Role: "assistant", Content: resp.Text})
			lastText = resp.Text
		}
		if len(resp.ToolCalls) == 0 {
			return lastText, nil
		}

		for _, call := range resp.ToolCalls {
			result := b.runGatedTool(ctx, call)
			b.history = append(b.history, result)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
	}
	return lastText, fmt.Errorf("turn %s exceeded %d tool rounds", turnID, maxToolRounds)
}

// runGatedTool publishes a pending task for the call, blocks until a human
// resolves it, and executes only on approval. The outcome always flows
// back to the provider as a tool result so the conversation can continue.
func (b *Bridge) runGatedTool(ctx context.Context, call ToolCall) Message {
	result := Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name}

	task, err := b.store.CreateTask(queue.Payload{Tool: call.Name, Input: call.Input})
	if err != nil {
		result.Content = fmt.Sprintf("tool call could not be queued: %v", err)
		result.IsError = true
		return result
	}
	if b.metrics != nil {
		b.metrics.TaskEvents.WithLabelValues(string(queue.StatusPending)).Inc()
	}
	slog.Info("tool call awaiting approval", "task_id", task.ID, "tool", call.Name)

	resolved, err := b.store.WaitResolution(ctx, task.ID)
	if err != nil {
		result.Content = fmt.Sprintf("approval wait aborted: %v", err)
		result.IsError = true
		return result
	}
	if b.metrics != nil {
		b.metrics.ObserveApprovalLatency(resolved.UpdatedAt.Sub(resolved.CreatedAt))
	}

	if resolved.Status != queue.StatusApproved {
		slog.Info("tool call rejected", "task_id", task.ID, "tool", call.Name, "by", resolved.ResolvedBy)
		result.Content = "the operator rejected this tool call"
		result.IsError = true
		return result
	}

	out, execErr := b.exec.Execute(ctx, call.Name, call.Input)
	if _, err := b.store.MarkDone(task.ID); err != nil {
		slog.Warn("mark done failed", "task_id", task.ID, "error", err)
	} else if b.metrics != nil {
		b.metrics.TaskEvents.WithLabelValues(string(queue.StatusDone)).Inc()
	}
	if execErr != nil {
		result.Content = fmt.Sprintf("%s\n%v", out, execErr)
		result.IsError = true
		return result
	}
	result.Content = out
	return result
}

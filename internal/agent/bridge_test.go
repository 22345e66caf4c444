package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
)

type scriptedProvider struct {
	mu       sync.Mutex
	script   []TurnResponse
	requests []TurnRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var resp TurnResponse
	if len(p.script) > 0 {
		resp = p.script[0]
		p.script = p.script[1:]
	}
	p.mu.Unlock()

	if resp.Text != "" && onDelta != nil {
		if err := onDelta(resp.Text); err != nil {
			return TurnResponse{}, err
		}
	}
	return resp, nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []any
}

func (b *recordingBroadcaster) Broadcast(msg any) {
	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) messages() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.msgs...)
}

func newTestBridge(t *testing.T, script []TurnResponse) (*Bridge, *queue.Store, *scriptedProvider, *recordingBroadcaster) {
	t.Helper()
	store := queue.NewStore()
	t.Cleanup(store.Close)

	exec, err := NewExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	provider := &scriptedProvider{script: script}
	sink := &recordingBroadcaster{}
	return NewBridge(provider, store, sink, exec, nil), store, provider, sink
}

// resolveFirstPending watches the store and resolves the first pending
// task it sees, standing in for the human operator.
func resolveFirstPending(t *testing.T, store *queue.Store, decision queue.Decision) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			for _, task := range store.List() {
				if task.Status == queue.StatusPending {
					store.Resolve(task.ID, decision, "operator")
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestHandleChatPlainReply(t *testing.T) {
	bridge, store, _, sink := newTestBridge(t, []TurnResponse{
		{Text: "hello there"},
	})

	if err := bridge.HandleChat(context.Background(), "dana", "hi"); err != nil {
		t.Fatalf("HandleChat: %v", err)
	}

	room := store.ListRoomMessages()
	if len(room) != 2 {
		t.Fatalf("room messages = %d, want 2", len(room))
	}
	if room[0].Kind != queue.RoomKindChat || room[0].Sender != "dana" {
		t.Fatalf("first room entry = %+v", room[0])
	}
	if room[1].Kind != queue.RoomKindAgent || room[1].Text != "hello there" {
		t.Fatalf("second room entry = %+v", room[1])
	}

	var sawDelta, sawDone bool
	for _, msg := range sink.messages() {
		switch m := msg.(type) {
		case protocol.AgentDelta:
			if m.TextDelta == "hello there" {
				sawDelta = true
			}
		case protocol.AgentDone:
			if m.Reason != "" {
				t.Fatalf("done carried error reason %q", m.Reason)
			}
			sawDone = true
		}
	}
	if !sawDelta || !sawDone {
		t.Fatalf("missing broadcasts: delta=%v done=%v", sawDelta, sawDone)
	}
}

func TestHandleChatApprovedToolRuns(t *testing.T) {
	bridge, store, provider, _ := newTestBridge(t, []TurnResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: "read_file", Input: json.RawMessage(`{"path":"notes.txt"}`)}}},
		{Text: "done reading"},
	})
	if err := os.WriteFile(filepath.Join(bridge.exec.Root(), "notes.txt"), []byte("remember the milk"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	resolveFirstPending(t, store, queue.DecisionApproved)

	if err := bridge.HandleChat(context.Background(), "dana", "read my notes"); err != nil {
		t.Fatalf("HandleChat: %v", err)
	}

	tasks := store.List()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Status != queue.StatusDone {
		t.Fatalf("task status = %q, want done", tasks[0].Status)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.requests) != 2 {
		t.Fatalf("provider rounds = %d, want 2", len(provider.requests))
	}
	last := provider.requests[1].Messages
	toolMsg := last[len(last)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "tc1" {
		t.Fatalf("tool result not fed back: %+v", toolMsg)
	}
	if toolMsg.IsError || !strings.Contains(toolMsg.Content, "remember the milk") {
		t.Fatalf("tool result content = %+v", toolMsg)
	}
}

func TestHandleChatRejectedToolDoesNotRun(t *testing.T) {
	bridge, store, provider, _ := newTestBridge(t, []TurnResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: "run_command", Input: json.RawMessage(`{"command":"touch evidence"}`)}}},
		{Text: "understood"},
	})

	resolveFirstPending(t, store, queue.DecisionRejected)

	if err := bridge.HandleChat(context.Background(), "dana", "run it"); err != nil {
		t.Fatalf("HandleChat: %v", err)
	}

	if _, err := os.Stat(filepath.Join(bridge.exec.Root(), "evidence")); !os.IsNotExist(err) {
		t.Fatalf("rejected command still executed")
	}

	tasks := store.List()
	if len(tasks) != 1 || tasks[0].Status != queue.StatusRejected {
		t.Fatalf("task state after rejection = %+v", tasks)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	last := provider.requests[1].Messages
	toolMsg := last[len(last)-1]
	if !toolMsg.IsError || !strings.Contains(toolMsg.Content, "rejected") {
		t.Fatalf("rejection not reported to provider: %+v", toolMsg)
	}
}

func TestHandleChatCanceledWhileWaiting(t *testing.T) {
	bridge, _, _, sink := newTestBridge(t, []TurnResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: "list_dir", Input: json.RawMessage(`{"path":"."}`)}}},
		{Text: "never reached"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := bridge.HandleChat(ctx, "dana", "list files"); err == nil {
		t.Fatalf("expected error after cancellation")
	}

	var done *protocol.AgentDone
	for _, msg := range sink.messages() {
		if m, ok := msg.(protocol.AgentDone); ok {
			done = &m
		}
	}
	if done == nil || done.Reason == "" {
		t.Fatalf("expected done broadcast with failure reason, got %+v", done)
	}
}

func TestHandleChatRejectsEmptyText(t *testing.T) {
	bridge, store, _, _ := newTestBridge(t, nil)
	if err := bridge.HandleChat(context.Background(), "dana", "   "); err == nil {
		t.Fatalf("expected error for empty chat")
	}
	if len(store.ListRoomMessages()) != 0 {
		t.Fatalf("empty chat reached the room log")
	}
}

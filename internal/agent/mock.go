package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider gives deterministic local replies when no API key is
// configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	select {
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return TurnResponse{}, err
		}
	}
	return TurnResponse{Text: text}, nil
}

func buildMockReply(req TurnRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role == "tool" {
			return fmt.Sprintf("Tool %s finished: %s", m.ToolName, strings.TrimSpace(m.Content))
		}
		if m.Role == "user" {
			base := strings.TrimSpace(m.Content)
			if base == "" {
				base = "I am listening."
			}
			return fmt.Sprintf("I heard you: %s", base)
		}
	}
	return "I am listening."
}

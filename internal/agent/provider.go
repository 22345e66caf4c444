package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one entry in the conversation passed to a provider.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation the model asked for.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// TurnRequest is the normalized request sent to a reasoning provider.
type TurnRequest struct {
	TurnID   string
	Messages []Message
	Tools    []ToolSpec
}

// TurnResponse is the final response after streaming deltas.
type TurnResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Provider bridges the dashboard runtime with a reasoning backend.
type Provider interface {
	Name() string
	StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error)
}

// ProviderConfig controls provider construction.
type ProviderConfig struct {
	Mode   string
	APIKey string
	Model  string
}

func NewProvider(cfg ProviderConfig) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
		}
		return NewMockProvider(), nil
	case "anthropic":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported agent provider mode %q", cfg.Mode)
	}
}

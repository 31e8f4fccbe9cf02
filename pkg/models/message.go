// Package models defines the shared data types used across the concierge
// engine: conversation turns, tool invocations, integration credentials,
// and per-user security preferences.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is a single entry in a conversation transcript. Ordering is
// append-only and strictly sequential; a tool turn must immediately follow
// the assistant turn whose ToolCalls it answers.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool invocation. Content is a JSON object
// of the form {"success":true,...} or {"success":false,"error":...}.
// ToolCallID must match a pending invocation issued in the same loop.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// LastUserContent returns the content of the most recent user turn, or ""
// if the transcript contains none. Confirmation checks evaluate this reply.
func LastUserContent(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// VerificationCode is a step-up authentication code for the highest-risk
// confirmations. Only the salted hash is stored; the plaintext is returned
// once at creation for out-of-band delivery.
type VerificationCode struct {
	UserID     string
	ActionType string
	Salt       string
	CodeHash   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

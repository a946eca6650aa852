package core

import (
	"fmt"
	"strings"
)

// Conversation roles. RoleSystem never survives into a persisted history;
// system instructions are injected per completion call (see flow package).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToolCall describes a tool/function invocation request surfaced by a
// completion provider. Unified across vendors so downstream logic does not
// need per-provider branching.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // serialized JSON payload
}

// Message is a single entry of a conversation history. The optional tool
// fields are only populated on the transient messages exchanged during a
// tool-call continuation; persisted histories contain plain user/assistant
// text messages.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant tool-call request
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result correlation
	Name       string     `json:"name,omitempty"`         // tool name on tool results
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant-authored text message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-role result message correlated to a call id.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// Flatten renders messages as "role: text" lines, the form consumed by the
// router's classification prompt.
func Flatten(history []Message) []string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return lines
}

// TokenUsage captures token accounting for a completion call or, accumulated,
// for a whole turn.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into the receiver.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// TurnResult is the structured outcome of one processed turn.
type TurnResult struct {
	// TurnID correlates log entries and results for one ProcessTurn call.
	TurnID string `json:"turn_id"`
	// Content is the synthesized reply text.
	Content string `json:"content"`
	// ExpertName is the responding expert, or a "+"-joined label when
	// multiple experts contributed.
	ExpertName string `json:"expert_name"`
	// SwitchedContext reports whether the active expert changed this turn.
	SwitchedContext bool `json:"switched_context"`
	// Usage accumulates tokens across every provider call of the turn,
	// including the classification call.
	Usage TokenUsage `json:"usage"`
	// FailedExperts records per-expert dispatch failures of a hybrid turn
	// that still produced content from other experts.
	FailedExperts map[string]string `json:"failed_experts,omitempty"`
}

// JoinExpertLabel builds the display label for a set of responding experts.
func JoinExpertLabel(names []string) string { return strings.Join(names, "+") }

// Package testutil provides small builders shared by package tests.
package testutil

import "github.com/hupe1980/switchboard/core"

// HistoryBuilder assembles conversation histories for tests with a fluent
// API.
type HistoryBuilder struct {
	history []core.Message
}

// NewHistory creates an empty history builder.
func NewHistory() *HistoryBuilder { return &HistoryBuilder{} }

// User appends a user message.
func (b *HistoryBuilder) User(content string) *HistoryBuilder {
	b.history = append(b.history, core.NewUserMessage(content))
	return b
}

// Assistant appends an assistant message.
func (b *HistoryBuilder) Assistant(content string) *HistoryBuilder {
	b.history = append(b.history, core.NewAssistantMessage(content))
	return b
}

// System appends a system message.
func (b *HistoryBuilder) System(content string) *HistoryBuilder {
	b.history = append(b.history, core.Message{Role: core.RoleSystem, Content: content})
	return b
}

// Exchanges appends n user/assistant pairs with generated content.
func (b *HistoryBuilder) Exchanges(n int) *HistoryBuilder {
	for i := 0; i < n; i++ {
		b.User("question").Assistant("answer")
	}
	return b
}

// Build returns the assembled history.
func (b *HistoryBuilder) Build() []core.Message { return b.history }

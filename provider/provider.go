// Package provider defines the completion provider contract consumed by the
// router and the turn orchestrator, plus the normalized request/response
// types adapters translate to and from. Concrete backends live in the
// subpackages (openai, anthropic, gemini, ollama); Mock is the deterministic
// in-memory double used by tests and examples.
package provider

import (
	"context"

	"github.com/hupe1980/switchboard/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized provider input produced by the router and
// the flow. Instructions carry the system prompt; it is injected per call and
// never persisted into a session history.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a provider.
//
// Partial responses carry one text fragment in Text. The final response
// (Partial=false) carries the complete text, any tool calls the model
// requested instead of final text, and the token usage of the call.
type Response struct {
	Partial      bool             `json:"partial"`
	Text         string           `json:"text"`
	ToolCalls    []core.ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *core.TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "ollama", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal interface required by the router and the flow to
// drive generation.
//
// Generate returns a response channel and an error channel; both are closed
// when the call completes. When Stream is requested, partial fragments
// precede the final response. Token usage for the call is reported on the
// final response.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// CountTokens returns a token count estimate for the given text.
	CountTokens(text string) int

	// Info returns information about the provider implementation.
	Info() Info
}

// Collect drains a Generate call to completion, returning the final response.
// Partial fragments are passed to onFragment when non-nil. It is the shared
// consumption helper for callers that need the complete text (classification,
// tool continuation, non-streaming dispatch).
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error, onFragment func(string)) (*Response, error) {
	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if onFragment != nil {
					onFragment(resp.Text)
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, ErrNoResponse
	}
	return final, nil
}

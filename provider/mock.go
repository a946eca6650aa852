package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/hupe1980/switchboard/core"
)

// routerPromptSignature marks classification prompts so the mock can apply
// its routing rules instead of its conversational responses. It must match
// the opening line of the router's classification prompt.
const routerPromptSignature = "You are an Intent Router"

var userMessagePattern = regexp.MustCompile(`(?s)User Message: "(.*?)"`)

// Mock is a deterministic in-memory Provider for tests and examples.
//
// Conversational calls are answered by substring match of the last message
// against the registered responses. Classification calls (detected via the
// router prompt signature) are answered by substring match of the embedded
// user message against the routing rules. Token counts are len(text)/4 so
// usage assertions stay deterministic.
type Mock struct {
	info            Info
	responses       map[string]string
	routingRules    map[string]string
	defaultResponse string
	defaultRoute    string
	err             error
	toolCalls       []core.ToolCall
}

// NewMock constructs a Mock with tool support enabled.
func NewMock() *Mock {
	return &Mock{
		info:            Info{Name: "mock", Provider: "mock", SupportsTools: true},
		responses:       map[string]string{},
		routingRules:    map[string]string{},
		defaultResponse: "Mock response",
		defaultRoute:    "orchestrator",
	}
}

// AddResponse registers a canned completion returned when the last message
// contains the given substring (case-insensitive).
func (m *Mock) AddResponse(substring, response string) { m.responses[substring] = response }

// AddRoutingRule maps a user-message substring to the expert name the mock
// returns for classification prompts.
func (m *Mock) AddRoutingRule(substring, expertName string) { m.routingRules[substring] = expertName }

// SetDefaultResponse overrides the fallback conversational reply.
func (m *Mock) SetDefaultResponse(response string) { m.defaultResponse = response }

// SetDefaultRoute overrides the expert name returned when no routing rule
// matches.
func (m *Mock) SetDefaultRoute(expertName string) { m.defaultRoute = expertName }

// FailWith makes every Generate call error out, for failure-path tests.
func (m *Mock) FailWith(err error) { m.err = err }

// RespondWithToolCalls makes the next non-classification call return the
// given tool calls instead of text; the follow-up call (carrying tool
// results) is answered normally.
func (m *Mock) RespondWithToolCalls(calls ...core.ToolCall) { m.toolCalls = calls }

// Generate implements Provider; emits optional streaming rune chunks then the
// final response.
func (m *Mock) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if m.err != nil {
			errCh <- m.err
			return
		}

		var last string
		if len(req.Messages) > 0 {
			last = req.Messages[len(req.Messages)-1].Content
		}

		if calls := m.takeToolCalls(req); len(calls) > 0 {
			respCh <- Response{
				ToolCalls:    calls,
				FinishReason: "tool_calls",
				Usage:        m.usage(req, ""),
			}
			return
		}

		full := m.respond(req, last)

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- Response{Text: full, FinishReason: "stop", Usage: m.usage(req, full)}
	}()

	return respCh, errCh
}

func (m *Mock) takeToolCalls(req Request) []core.ToolCall {
	if len(m.toolCalls) == 0 || len(req.Tools) == 0 {
		return nil
	}
	// Consume once; the continuation call must see text.
	calls := m.toolCalls
	m.toolCalls = nil
	return calls
}

func (m *Mock) respond(req Request, last string) string {
	if strings.Contains(last, routerPromptSignature) {
		target := last
		if match := userMessagePattern.FindStringSubmatch(last); match != nil {
			target = match[1]
		}
		for substring, expertName := range m.routingRules {
			if strings.Contains(strings.ToLower(target), strings.ToLower(substring)) {
				return expertName
			}
		}
		return m.defaultRoute
	}

	lower := strings.ToLower(last)
	for substring, response := range m.responses {
		if strings.Contains(lower, strings.ToLower(substring)) {
			return response
		}
	}
	return m.defaultResponse
}

func (m *Mock) usage(req Request, output string) *core.TokenUsage {
	var input strings.Builder
	input.WriteString(req.Instructions)
	for _, msg := range req.Messages {
		input.WriteString(msg.Content)
	}
	prompt := m.CountTokens(input.String())
	completion := m.CountTokens(output)
	return &core.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// CountTokens implements Provider with the deterministic len/4 estimate.
func (m *Mock) CountTokens(text string) int { return len(text) / 4 }

// Info implements Provider.
func (m *Mock) Info() Info { return m.info }

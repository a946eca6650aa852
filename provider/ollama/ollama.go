// Package ollama implements provider.Provider against a local Ollama server's
// /api/chat endpoint, including NDJSON streaming and tool calling. The server
// speaks plain JSON over HTTP, so the adapter uses net/http directly.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/provider"
)

// DefaultHost is the standard local Ollama endpoint.
const DefaultHost = "http://localhost:11434"

// Options configures the Ollama provider adapter.
type Options struct {
	Model      string
	Host       string
	HTTPClient *http.Client
}

// Provider wraps the Ollama chat API behind the generic provider.Provider
// interface.
type Provider struct {
	opts   Options
	client *http.Client
}

// New creates an Ollama provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: "llama3",
		Host:  DefaultHost,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Provider{opts: opts, client: client}
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []chatToolDef  `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Generate implements unified streaming / non-streaming generation.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (<-chan provider.Response, <-chan error) {
	out := make(chan provider.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		body, err := json.Marshal(p.buildRequest(req))
		if err != nil {
			errCh <- fmt.Errorf("ollama request encode: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Host+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errCh <- fmt.Errorf("ollama request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			errCh <- fmt.Errorf("ollama api error: %w", err)
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			errCh <- fmt.Errorf("ollama api error: unexpected status %s", httpResp.Status)
			return
		}

		if req.Stream {
			p.consumeStream(httpResp, out, errCh)
			return
		}

		var resp chatResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			errCh <- fmt.Errorf("ollama response decode: %w", err)
			return
		}
		out <- toResponse(resp, resp.Message.Content)
	}()

	return out, errCh
}

// consumeStream reads the NDJSON stream, forwarding each chunk's content as a
// partial response until the terminal chunk (done=true) arrives.
func (p *Provider) consumeStream(httpResp *http.Response, out chan<- provider.Response, errCh chan<- error) {
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full string
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			errCh <- fmt.Errorf("ollama stream decode: %w", err)
			return
		}
		if chunk.Message.Content != "" {
			full += chunk.Message.Content
			out <- provider.Response{Partial: true, Text: chunk.Message.Content}
		}
		if chunk.Done {
			out <- toResponse(chunk, full)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		errCh <- fmt.Errorf("ollama stream read: %w", err)
		return
	}
	errCh <- fmt.Errorf("ollama stream ended without terminal chunk")
}

func (p *Provider) buildRequest(req provider.Request) chatRequest {
	cr := chatRequest{Model: p.opts.Model, Stream: req.Stream}

	if req.Instructions != "" {
		cr.Messages = append(cr.Messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call chatToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = map[string]any{}
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &call.Function.Arguments)
			}
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		cr.Messages = append(cr.Messages, msg)
	}

	for _, tdef := range req.Tools {
		var def chatToolDef
		def.Type = "function"
		def.Function.Name = tdef.Function.Name
		def.Function.Description = tdef.Function.Description
		def.Function.Parameters = tdef.Function.Parameters
		cr.Tools = append(cr.Tools, def)
	}
	return cr
}

// toResponse converts a terminal chat chunk into the normalized final
// response. Ollama assigns no tool call ids; the tool name doubles as the
// correlation key.
func toResponse(resp chatResponse, text string) provider.Response {
	final := provider.Response{Text: text, FinishReason: "stop"}

	for _, call := range resp.Message.ToolCalls {
		args := ""
		if encoded, err := json.Marshal(call.Function.Arguments); err == nil {
			args = string(encoded)
		}
		final.ToolCalls = append(final.ToolCalls, core.ToolCall{
			ID:        call.Function.Name,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	if len(final.ToolCalls) > 0 {
		final.FinishReason = "tool_calls"
	}

	final.Usage = &core.TokenUsage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	return final
}

// CountTokens estimates with the common four-characters-per-token heuristic;
// Ollama exposes no tokenizer endpoint.
func (p *Provider) CountTokens(text string) int { return len(text) / 4 }

// Info returns metadata describing this Ollama provider implementation.
func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          p.opts.Model,
		Provider:      "ollama",
		SupportsTools: true,
	}
}

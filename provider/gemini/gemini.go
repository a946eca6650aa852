// Package gemini implements provider.Provider on top of the Google Gemini
// API via the google.golang.org/genai SDK, including streaming and function
// calling.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/provider"
)

// Options configures the Gemini provider adapter.
type Options struct {
	Model       string
	Temperature float32
	APIKey      string
}

// Provider wraps the Gemini API behind the generic provider.Provider
// interface.
type Provider struct {
	client *genai.Client
	opts   Options
}

// New creates a Gemini provider. The API key falls back to the environment
// when not supplied.
func New(ctx context.Context, optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{Model: "gemini-2.0-flash", Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client, opts: opts}, nil
}

// Generate implements unified streaming / non-streaming generation.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (<-chan provider.Response, <-chan error) {
	out := make(chan provider.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Messages)
		config := p.buildConfig(req)

		if req.Stream {
			p.handleStreaming(ctx, contents, config, out, errCh)
			return
		}

		resp, err := p.client.Models.GenerateContent(ctx, p.opts.Model, contents, config)
		if err != nil {
			errCh <- fmt.Errorf("gemini api error: %w", err)
			return
		}
		out <- toResponse(resp)
	}()

	return out, errCh
}

// handleStreaming forwards chunk texts as partial responses and accumulates
// the final text. Usage arrives on the last chunk.
func (p *Provider) handleStreaming(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	out chan<- provider.Response,
	errCh chan<- error,
) {
	var full string
	var last *genai.GenerateContentResponse

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.opts.Model, contents, config) {
		if err != nil {
			errCh <- fmt.Errorf("gemini streaming error: %w", err)
			return
		}
		if text := resp.Text(); text != "" {
			full += text
			out <- provider.Response{Partial: true, Text: text}
		}
		last = resp
	}
	if last == nil {
		errCh <- fmt.Errorf("gemini streaming returned no chunks")
		return
	}

	final := toResponse(last)
	final.Text = full
	out <- final
}

func (p *Provider) buildConfig(req provider.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.opts.Temperature),
	}
	if req.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tdef := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tdef.Function.Name,
				Description:          tdef.Function.Description,
				ParametersJsonSchema: tdef.Function.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return config
}

// buildContents converts normalized messages into genai contents. Gemini uses
// "model" for the assistant role; tool results travel as function response
// parts in user-role contents.
func buildContents(messages []core.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			// Injected via SystemInstruction, never inline.
			continue
		case core.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &args)
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case core.RoleTool:
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(m.Name, map[string]any{"result": m.Content})},
				genai.RoleUser,
			))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

// toResponse converts a complete generation result into the normalized final
// response.
func toResponse(resp *genai.GenerateContentResponse) provider.Response {
	final := provider.Response{Text: resp.Text(), FinishReason: "stop"}

	for _, call := range resp.FunctionCalls() {
		args := ""
		if call.Args != nil {
			if encoded, err := json.Marshal(call.Args); err == nil {
				args = string(encoded)
			}
		}
		final.ToolCalls = append(final.ToolCalls, core.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: args,
		})
	}
	if len(final.ToolCalls) > 0 {
		final.FinishReason = "tool_calls"
	}

	if resp.UsageMetadata != nil {
		final.Usage = &core.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return final
}

// CountTokens estimates with the common four-characters-per-token heuristic;
// exact counting would require the count-tokens endpoint and a network call.
func (p *Provider) CountTokens(text string) int { return len(text) / 4 }

// Info returns metadata describing this Gemini provider implementation.
func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:          p.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
	}
}

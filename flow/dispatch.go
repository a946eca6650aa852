package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/expert"
	"github.com/hupe1980/switchboard/provider"
)

// branchResult is the outcome of one dispatched expert branch. Results are
// collected in decision order regardless of completion order so output and
// token accounting are reproducible.
type branchResult struct {
	name  string
	text  string
	usage core.TokenUsage
	err   error
}

// dispatch executes every expert of the routing decision against the pruned
// history plus the new user message. Sequential by default; with
// ParallelDispatch enabled, hybrid turns fan out to one goroutine per expert
// and join on all branches. Streaming is only honored for single-expert
// dispatches.
func (f *Flow) dispatch(ctx context.Context, names []string, history []core.Message, userMessage string, turnOpts TurnOptions) []branchResult {
	results := make([]branchResult, len(names))

	onFragment := turnOpts.OnFragment
	if !turnOpts.Stream || len(names) > 1 {
		onFragment = nil
	}

	if f.parallel && len(names) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			g.Go(func() error {
				// Branch failures are recorded per expert, never
				// propagated, so sibling branches keep running.
				results[i] = f.runExpert(gctx, name, history, userMessage, nil)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i, name := range names {
		results[i] = f.runExpert(ctx, name, history, userMessage, onFragment)
	}
	return results
}

// runExpert performs one expert's completion call including the optional
// single-round tool continuation. onFragment enables streaming; it is nil
// whenever streaming is not permitted for this branch.
func (f *Flow) runExpert(ctx context.Context, name string, history []core.Message, userMessage string, onFragment func(string)) branchResult {
	e := f.registry.Resolve(name)

	p := e.Provider
	if p == nil {
		p = f.provider
	}

	messages := make([]core.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, core.NewUserMessage(userMessage))

	// Tool-call continuation requires the full response to inspect proposed
	// calls, so streaming is off for tool-carrying experts.
	stream := onFragment != nil && len(e.Tools) == 0

	req := provider.Request{
		Instructions: e.SystemPrompt,
		Messages:     messages,
		Tools:        e.ToolDefinitions(),
		Stream:       stream,
	}

	var fragment func(string)
	if stream {
		fragment = onFragment
	}

	respCh, errCh := p.Generate(ctx, req)
	resp, err := provider.Collect(ctx, respCh, errCh, fragment)
	if err != nil {
		return branchResult{name: name, err: fmt.Errorf("expert %s: %w", name, err)}
	}

	result := branchResult{name: name, text: resp.Text}
	if resp.Usage != nil {
		result.usage.Add(*resp.Usage)
	}

	if len(resp.ToolCalls) > 0 && len(e.Tools) > 0 {
		return f.continueWithTools(ctx, e, p, messages, resp, result)
	}
	return result
}

// continueWithTools executes the model's requested tool calls and re-invokes
// the provider once with the extended message list. The loop runs at most
// once per call; a second round of tool calls is not honored.
func (f *Flow) continueWithTools(ctx context.Context, e *expert.Expert, p provider.Provider, messages []core.Message, resp *provider.Response, result branchResult) branchResult {
	messages = append(messages, core.Message{
		Role:      core.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	})

	for _, call := range resp.ToolCalls {
		messages = append(messages, core.NewToolMessage(call.ID, call.Name, f.executeTool(ctx, e, call)))
	}

	req := provider.Request{
		Instructions: e.SystemPrompt,
		Messages:     messages,
		Tools:        e.ToolDefinitions(),
	}
	respCh, errCh := p.Generate(ctx, req)
	final, err := provider.Collect(ctx, respCh, errCh, nil)
	if err != nil {
		return branchResult{name: result.name, err: fmt.Errorf("expert %s tool continuation: %w", result.name, err)}
	}

	result.text = final.Text
	if final.Usage != nil {
		result.usage.Add(*final.Usage)
	}
	return result
}

// executeTool runs one requested tool call. Failures are converted to a
// textual error result fed back to the model, never raised: an unknown tool
// name or a tool error must not abort the branch.
func (f *Flow) executeTool(ctx context.Context, e *expert.Expert, call core.ToolCall) string {
	t := e.FindTool(call.Name)
	if t == nil {
		return fmt.Sprintf("Error: tool %q is not available.", call.Name)
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for tool %q: %v", call.Name, err)
		}
	}

	start := time.Now()
	value, err := t.Call(ctx, args)
	f.logger.Info("flow.tool.executed",
		"expert", e.Name,
		"tool", call.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	switch v := value.(type) {
	case string:
		return v
	default:
		encoded, merr := json.Marshal(v)
		if merr != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// synthesize merges branch results into the turn's reply. A single responding
// expert's text is returned verbatim; multiple responders are concatenated
// under one headed section per expert, decision order, failed branches
// skipped.
func synthesize(results []branchResult) string {
	var sections []string
	for _, res := range results {
		if res.err != nil {
			continue
		}
		sections = append(sections, res.text)
	}
	if len(sections) == 1 {
		return sections[0]
	}

	var b strings.Builder
	first := true
	for _, res := range results {
		if res.err != nil {
			continue
		}
		if !first {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", res.name, res.text)
		first = false
	}
	return b.String()
}

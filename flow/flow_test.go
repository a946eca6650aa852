package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/expert"
	"github.com/hupe1980/switchboard/internal/testutil"
	"github.com/hupe1980/switchboard/memory"
	"github.com/hupe1980/switchboard/provider"
	"github.com/hupe1980/switchboard/router"
	"github.com/hupe1980/switchboard/session"
	"github.com/hupe1980/switchboard/tool"
)

// script is one expert's canned behavior in a scriptedProvider.
type script struct {
	reply string
	delay time.Duration
	err   error
}

// scriptedProvider is a test double keyed by the system instructions of the
// call, letting each expert behave differently behind one provider.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   []string
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{scripts: map[string]script{}}
}

func (p *scriptedProvider) stub(instructions string, s script) { p.scripts[instructions] = s }

func (p *scriptedProvider) Generate(ctx context.Context, req provider.Request) (<-chan provider.Response, <-chan error) {
	respCh := make(chan provider.Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		p.mu.Lock()
		s := p.scripts[req.Instructions]
		p.calls = append(p.calls, req.Instructions)
		p.mu.Unlock()

		if s.delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(s.delay):
			}
		}
		if s.err != nil {
			errCh <- s.err
			return
		}

		var input strings.Builder
		input.WriteString(req.Instructions)
		for _, m := range req.Messages {
			input.WriteString(m.Content)
		}
		prompt := p.CountTokens(input.String())
		completion := p.CountTokens(s.reply)

		if req.Stream {
			for _, r := range s.reply {
				respCh <- provider.Response{Partial: true, Text: string(r)}
			}
		}
		respCh <- provider.Response{
			Text:         s.reply,
			FinishReason: "stop",
			Usage: &core.TokenUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		}
	}()

	return respCh, errCh
}

func (p *scriptedProvider) CountTokens(text string) int { return len(text) / 4 }

func (p *scriptedProvider) Info() provider.Info {
	return provider.Info{Name: "scripted", Provider: "mock", SupportsTools: true}
}

// failingStore simulates an unavailable session store.
type failingStore struct{ err error }

func (s *failingStore) Get(string) (*core.Session, error) { return nil, s.err }
func (s *failingStore) Put(string, *core.Session) error   { return s.err }

func newTestFlow(t *testing.T, routing *provider.Mock, chat provider.Provider, optFns ...func(o *Options)) (*Flow, *expert.Registry, *session.InMemoryStore) {
	t.Helper()

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{
		Name:         "tech",
		Description:  "Expert in programming and code.",
		SystemPrompt: "You are a senior software engineer.",
	}))

	store := session.NewInMemoryStore()
	rt := router.New(registry, routing)

	opts := append([]func(o *Options){func(o *Options) { o.SessionStore = store }}, optFns...)
	return New(registry, rt, chat, opts...), registry, store
}

func newRoutingMock() *provider.Mock {
	routing := provider.NewMock()
	routing.AddRoutingRule("code", "tech")
	routing.AddRoutingRule("hi", "orchestrator")
	return routing
}

func TestProcessTurnEndToEnd(t *testing.T) {
	routing := newRoutingMock()

	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello! How can I help?")
	chat.AddResponse("code", "Here is some code.")

	f, _, _ := newTestFlow(t, routing, chat)

	res, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", res.ExpertName)
	assert.False(t, res.SwitchedContext)
	assert.Equal(t, "Hello! How can I help?", res.Content)
	assert.NotEmpty(t, res.TurnID)

	res, err = f.ProcessTurn(context.Background(), "u1", "write some code")
	require.NoError(t, err)
	assert.Equal(t, "tech", res.ExpertName)
	assert.True(t, res.SwitchedContext)
	assert.Equal(t, "Here is some code.", res.Content)
}

func TestProcessTurnPersistsHistory(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello!")

	f, _, store := newTestFlow(t, routing, chat)

	_, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)

	sess, err := store.Get("u1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.History, 2)
	assert.Equal(t, core.NewUserMessage("hi"), sess.History[0])
	assert.Equal(t, core.NewAssistantMessage("Hello!"), sess.History[1])
	assert.Equal(t, "orchestrator", sess.CurrentExpert)
}

func TestProcessTurnAccumulatesUsageAcrossCalls(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello there!")

	f, _, _ := newTestFlow(t, routing, chat)

	res, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)

	// The expert call alone yields 4 tokens for "hi" -> "Hello there!";
	// the classification call's usage is included on top.
	assert.Greater(t, res.Usage.TotalTokens, 4)
	assert.Positive(t, res.Usage.PromptTokens)
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
}

func TestProcessTurnSanitizesHistoryOnSwitch(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("code", "Done.")

	f, _, store := newTestFlow(t, routing, chat)

	seeded := core.NewSession("u1", "orchestrator")
	seeded.History = testutil.NewHistory().
		System("You are the orchestrator.").
		User("hi").
		Assistant(memory.ContextHintPrefix + " keep it short").
		Assistant("Hello!").
		Build()
	require.NoError(t, store.Put("u1", seeded))

	res, err := f.ProcessTurn(context.Background(), "u1", "write some code")
	require.NoError(t, err)
	assert.True(t, res.SwitchedContext)

	sess, err := store.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "tech", sess.CurrentExpert)
	for _, msg := range sess.History {
		assert.NotEqual(t, core.RoleSystem, msg.Role)
		assert.False(t, strings.HasPrefix(msg.Content, memory.ContextHintPrefix))
	}
}

func TestProcessTurnPrunesHistory(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello!")

	f, _, store := newTestFlow(t, routing, chat, func(o *Options) { o.MaxHistoryTurns = 2 })

	seeded := core.NewSession("u1", "orchestrator")
	seeded.History = testutil.NewHistory().Exchanges(10).Build()
	require.NoError(t, store.Put("u1", seeded))

	_, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)

	sess, err := store.Get("u1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 4)
}

func TestProcessTurnTreatsEvictedSessionAsNew(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello!")

	f, _, store := newTestFlow(t, routing, chat)

	_, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)

	store.Delete("u1")

	res, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.False(t, res.SwitchedContext)
	assert.Equal(t, "orchestrator", res.ExpertName)
}

func TestProcessTurnSessionStoreUnavailable(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()

	registry := expert.NewRegistry()
	registry.Default()
	rt := router.New(registry, routing)
	f := New(registry, rt, chat, func(o *Options) {
		o.SessionStore = &failingStore{err: errors.New("store down")}
	})

	_, err := f.ProcessTurn(context.Background(), "u1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestHybridTurnMergesInDecisionOrder(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("enigma", "history, coding")

	chat := newScriptedProvider()
	chat.stub("You are a historian.", script{reply: "The Enigma machine mattered.", delay: 60 * time.Millisecond})
	chat.stub("You are a coder.", script{reply: "print('cipher')"})

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{Name: "history", Description: "History", SystemPrompt: "You are a historian."}))
	require.NoError(t, registry.Register(&expert.Expert{Name: "coding", Description: "Coding", SystemPrompt: "You are a coder."}))

	rt := router.New(registry, routing)
	f := New(registry, rt, chat, func(o *Options) { o.ParallelDispatch = true })

	res, err := f.ProcessTurn(context.Background(), "u1", "explain the enigma machine")
	require.NoError(t, err)

	// history's call completes after coding's, but decision order wins.
	assert.Equal(t, "history+coding", res.ExpertName)
	historyIdx := strings.Index(res.Content, "## history")
	codingIdx := strings.Index(res.Content, "## coding")
	require.GreaterOrEqual(t, historyIdx, 0)
	require.Greater(t, codingIdx, historyIdx)
	assert.Contains(t, res.Content, "The Enigma machine mattered.")
	assert.Contains(t, res.Content, "print('cipher')")
}

func TestHybridTurnToleratesSingleFailure(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("both", "history, coding")

	chat := newScriptedProvider()
	chat.stub("You are a historian.", script{err: errors.New("model overloaded")})
	chat.stub("You are a coder.", script{reply: "still here"})

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{Name: "history", Description: "History", SystemPrompt: "You are a historian."}))
	require.NoError(t, registry.Register(&expert.Expert{Name: "coding", Description: "Coding", SystemPrompt: "You are a coder."}))

	rt := router.New(registry, routing)
	f := New(registry, rt, chat)

	res, err := f.ProcessTurn(context.Background(), "u1", "ask both")
	require.NoError(t, err)
	assert.Equal(t, "coding", res.ExpertName)
	assert.Equal(t, "still here", res.Content)
	require.Contains(t, res.FailedExperts, "history")
	assert.Contains(t, res.FailedExperts["history"], "model overloaded")
}

func TestAllExpertsFailedLeavesSessionUntouched(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("code", "tech")

	chat := provider.NewMock()
	chat.FailWith(errors.New("provider down"))

	f, _, store := newTestFlow(t, routing, chat)

	seeded := core.NewSession("u1", "orchestrator")
	seeded.History = testutil.NewHistory().User("hi").Assistant("Hello!").Build()
	require.NoError(t, store.Put("u1", seeded))

	_, err := f.ProcessTurn(context.Background(), "u1", "write some code")
	require.Error(t, err)

	var tfe *core.TurnFailedError
	require.ErrorAs(t, err, &tfe)
	assert.Contains(t, tfe.Causes, "tech")

	sess, gerr := store.Get("u1")
	require.NoError(t, gerr)
	assert.Equal(t, seeded.History, sess.History)
	assert.Equal(t, "orchestrator", sess.CurrentExpert)
}

func TestStreamingSingleExpert(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "abc")

	f, _, _ := newTestFlow(t, routing, chat)

	var fragments []string
	res, err := f.ProcessTurn(context.Background(), "u1", "hi", func(o *TurnOptions) {
		o.Stream = true
		o.OnFragment = func(fr string) { fragments = append(fragments, fr) }
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fragments)
	assert.Equal(t, "abc", res.Content)
}

func TestStreamingDisabledForHybridTurns(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("both", "history, coding")

	chat := newScriptedProvider()
	chat.stub("You are a historian.", script{reply: "h"})
	chat.stub("You are a coder.", script{reply: "c"})

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{Name: "history", Description: "History", SystemPrompt: "You are a historian."}))
	require.NoError(t, registry.Register(&expert.Expert{Name: "coding", Description: "Coding", SystemPrompt: "You are a coder."}))

	rt := router.New(registry, routing)
	f := New(registry, rt, chat)

	var fragments []string
	res, err := f.ProcessTurn(context.Background(), "u1", "ask both", func(o *TurnOptions) {
		o.Stream = true
		o.OnFragment = func(fr string) { fragments = append(fragments, fr) }
	})
	require.NoError(t, err)
	assert.Empty(t, fragments)
	assert.Contains(t, res.Content, "## history")
}

func TestProcessTurnToolContinuation(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("weather", "weather")

	chat := provider.NewMock()
	chat.RespondWithToolCalls(core.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Berlin"}`})
	chat.AddResponse("22 degrees", "It is 22 degrees in Berlin.")

	var gotArgs map[string]any
	weatherTool := tool.NewFunctionTool(
		"get_weather",
		"Returns the current weather for a city.",
		map[string]any{"type": "object"},
		func(ctx context.Context, args map[string]any) (any, error) {
			gotArgs = args
			return "22 degrees", nil
		},
	)

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{
		Name:         "weather",
		Description:  "Weather lookups.",
		SystemPrompt: "You are a weather assistant.",
		Tools:        []tool.Tool{weatherTool},
	}))

	rt := router.New(registry, routing)
	f := New(registry, rt, chat)

	res, err := f.ProcessTurn(context.Background(), "u1", "what is the weather in berlin")
	require.NoError(t, err)
	assert.Equal(t, "weather", res.ExpertName)
	assert.Equal(t, "It is 22 degrees in Berlin.", res.Content)
	assert.Equal(t, map[string]any{"city": "Berlin"}, gotArgs)
}

func TestProcessTurnUnknownToolFedBackAsError(t *testing.T) {
	routing := provider.NewMock()
	routing.AddRoutingRule("weather", "weather")

	chat := provider.NewMock()
	chat.RespondWithToolCalls(core.ToolCall{ID: "call_1", Name: "nonexistent", Arguments: "{}"})
	chat.AddResponse("not available", "I could not look that up.")

	registry := expert.NewRegistry()
	registry.Default()
	require.NoError(t, registry.Register(&expert.Expert{
		Name:         "weather",
		Description:  "Weather lookups.",
		SystemPrompt: "You are a weather assistant.",
		Tools: []tool.Tool{tool.NewFunctionTool(
			"get_weather", "Weather.", map[string]any{"type": "object"},
			func(ctx context.Context, args map[string]any) (any, error) { return "sunny", nil },
		)},
	}))

	rt := router.New(registry, routing)
	f := New(registry, rt, chat)

	res, err := f.ProcessTurn(context.Background(), "u1", "weather please")
	require.NoError(t, err)
	assert.Equal(t, "I could not look that up.", res.Content)
}

func TestConcurrentTurnsForSameUserSerialize(t *testing.T) {
	routing := newRoutingMock()
	chat := provider.NewMock()
	chat.AddResponse("hi", "Hello!")

	f, _, store := newTestFlow(t, routing, chat)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ProcessTurn(context.Background(), "u1", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := store.Get("u1")
	require.NoError(t, err)
	// Serialized turns append exactly two entries each, no interleaving.
	assert.Len(t, sess.History, 16)
}

func TestProcessTurnContextCancelled(t *testing.T) {
	routing := newRoutingMock()

	chat := newScriptedProvider()
	chat.stub("You are a helpful AI assistant. You handle general queries and help route users to the right expert if needed.", script{reply: "never", delay: time.Second})

	registry := expert.NewRegistry()
	registry.Default()
	rt := router.New(registry, routing)
	f := New(registry, rt, chat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.ProcessTurn(ctx, "u1", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthesizeSingleVerbatim(t *testing.T) {
	out := synthesize([]branchResult{{name: "tech", text: "only me"}})
	assert.Equal(t, "only me", out)
}

func TestSynthesizeSkipsFailedBranches(t *testing.T) {
	out := synthesize([]branchResult{
		{name: "a", err: errors.New("down")},
		{name: "b", text: "fine"},
	})
	assert.Equal(t, "fine", out)
}

func TestSynthesizeMultiSections(t *testing.T) {
	out := synthesize([]branchResult{
		{name: "a", text: "first"},
		{name: "b", text: "second"},
	})
	assert.Equal(t, "## a\n\nfirst\n\n## b\n\nsecond", out)
}

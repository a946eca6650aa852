// Package flow implements the turn orchestrator: the per-session state
// machine that routes a user message to one or more experts, dispatches the
// selected experts sequentially or concurrently, synthesizes their responses
// into a single reply and maintains the session history across turns.
package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/expert"
	"github.com/hupe1980/switchboard/logging"
	"github.com/hupe1980/switchboard/memory"
	"github.com/hupe1980/switchboard/provider"
	"github.com/hupe1980/switchboard/router"
	"github.com/hupe1980/switchboard/session"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// SessionStore persists sessions between turns. Defaults to the
	// in-memory store.
	SessionStore core.SessionStore
	// Logger receives orchestration lifecycle events. Defaults to NoOp.
	Logger logging.Logger
	// MaxHistoryTurns bounds the persisted history to the last N
	// user/assistant exchanges.
	MaxHistoryTurns int
	// ParallelDispatch executes hybrid turns' expert calls concurrently.
	// Purely a latency optimization: results are merged in decision order
	// either way.
	ParallelDispatch bool
}

// TurnOptions configures a single ProcessTurn call.
type TurnOptions struct {
	// Stream requests fragment forwarding. Streaming is disabled
	// automatically when more than one expert is dispatched or the selected
	// expert carries tools.
	Stream bool
	// OnFragment receives text fragments as the provider produces them.
	OnFragment func(fragment string)
}

// Flow is the top-level turn orchestrator. Public methods are safe for
// concurrent use; turns for the same user id are serialized, turns for
// different users run independently.
type Flow struct {
	registry *expert.Registry
	router   *router.Router
	provider provider.Provider
	store    core.SessionStore
	logger   logging.Logger

	maxHistoryTurns int
	parallel        bool

	userLocks sync.Map // userID -> *sync.Mutex
}

// New constructs a Flow with optional overrides. The provider is the default
// backend for experts without a provider override.
func New(registry *expert.Registry, rt *router.Router, p provider.Provider, optFns ...func(o *Options)) *Flow {
	opts := Options{
		SessionStore:    session.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
		MaxHistoryTurns: 20,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Flow{
		registry:        registry,
		router:          rt,
		provider:        p,
		store:           opts.SessionStore,
		logger:          opts.Logger,
		maxHistoryTurns: opts.MaxHistoryTurns,
		parallel:        opts.ParallelDispatch,
	}
}

// ProcessTurn runs one conversation turn for a user: load or create the
// session, classify the message, dispatch the selected expert(s), synthesize
// the reply, update the history and persist the session.
//
// Per-expert dispatch failures are tolerated as long as at least one expert
// produced content; when every expert fails the turn returns
// *core.TurnFailedError and the session is left untouched. Session store
// failures are fatal and surfaced to the caller.
func (f *Flow) ProcessTurn(ctx context.Context, userID, message string, optFns ...func(o *TurnOptions)) (*core.TurnResult, error) {
	turnOpts := TurnOptions{}
	for _, fn := range optFns {
		fn(&turnOpts)
	}

	lock := f.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	turnID := uuid.NewString()
	start := time.Now()

	sess, err := f.store.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("session store get: %w", err)
	}
	if sess == nil {
		sess = core.NewSession(userID, f.registry.Default().Name)
	}

	var turnUsage core.TokenUsage

	// Routing. The classification call's tokens always count toward the
	// turn total.
	decision := f.router.Classify(ctx, message, sess.CurrentExpert, core.Flatten(sess.History))
	turnUsage.Add(decision.Usage)

	switched := decision.Primary() != sess.CurrentExpert
	history := sess.History
	if switched {
		history = memory.SanitizeForSwitch(history)
	}

	f.logger.Debug("flow.turn.routed",
		"turn_id", turnID,
		"user_id", userID,
		"experts", decision.Experts,
		"switched", switched,
	)

	// Dispatching.
	results := f.dispatch(ctx, decision.Experts, history, message, turnOpts)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Synthesizing.
	var responded []string
	failures := map[string]error{}
	for _, res := range results {
		if res.err != nil {
			f.logger.Warn("flow.expert.failed",
				"turn_id", turnID,
				"expert", res.name,
				"error", res.err.Error(),
			)
			failures[res.name] = res.err
			continue
		}
		turnUsage.Add(res.usage)
		responded = append(responded, res.name)
	}
	if len(responded) == 0 {
		return nil, &core.TurnFailedError{Causes: failures}
	}

	content := synthesize(results)

	// Updating history.
	sess.CurrentExpert = decision.Primary()
	sess.History = append(history,
		core.NewUserMessage(message),
		core.NewAssistantMessage(content),
	)
	sess.History = memory.Prune(sess.History, f.maxHistoryTurns)
	sess.Updated = time.Now().UTC()

	if err := f.store.Put(userID, sess); err != nil {
		return nil, fmt.Errorf("session store put: %w", err)
	}

	result := &core.TurnResult{
		TurnID:          turnID,
		Content:         content,
		ExpertName:      core.JoinExpertLabel(responded),
		SwitchedContext: switched,
		Usage:           turnUsage,
	}
	if len(failures) > 0 {
		result.FailedExperts = make(map[string]string, len(failures))
		for name, ferr := range failures {
			result.FailedExperts[name] = ferr.Error()
		}
	}

	f.logger.Info("flow.turn.complete",
		"turn_id", turnID,
		"user_id", userID,
		"expert", result.ExpertName,
		"switched", switched,
		"total_tokens", turnUsage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (f *Flow) userLock(userID string) *sync.Mutex {
	l, _ := f.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

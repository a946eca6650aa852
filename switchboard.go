// Package switchboard provides a high-level façade over the expert registry,
// router and turn orchestrator enabling rapid construction of expert-routed
// conversational systems. Most applications interact with this package by:
//  1. Creating a Switchboard via New() with a completion provider
//  2. Registering one or more experts (persona, description, optional tools)
//  3. Processing turns per user id (ProcessTurn / ProcessTurnStream)
//
// The façade delegates orchestration to flow.Flow while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable session store
// and a structured logger.
package switchboard

import (
	"context"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/expert"
	"github.com/hupe1980/switchboard/flow"
	"github.com/hupe1980/switchboard/logging"
	"github.com/hupe1980/switchboard/provider"
	"github.com/hupe1980/switchboard/router"
	"github.com/hupe1980/switchboard/session"
)

// Options configures the Switchboard instance.
type Options struct {
	// DefaultExpert designates the fallback persona. When nil, a generic
	// orchestrator expert is synthesized.
	DefaultExpert *expert.Expert

	// EnableHybridRouting lets the router select multiple experts for one
	// turn and merge their responses. Enabled by default.
	EnableHybridRouting bool

	// ParallelDispatch executes hybrid turns' expert calls concurrently.
	ParallelDispatch bool

	// MaxHistoryTurns bounds the persisted history to the last N
	// user/assistant exchanges.
	MaxHistoryTurns int

	// SessionStore persists per-user sessions (defaults to in-memory).
	SessionStore core.SessionStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Switchboard is the high-level façade aggregating registry, router and flow.
type Switchboard struct {
	registry *expert.Registry
	flow     *flow.Flow
}

// New creates a Switchboard over a completion provider with optional
// overrides.
func New(p provider.Provider, optFns ...func(o *Options)) *Switchboard {
	opts := Options{
		EnableHybridRouting: true,
		MaxHistoryTurns:     20,
		SessionStore:        session.NewInMemoryStore(),
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := expert.NewRegistry(func(o *expert.RegistryOptions) {
		o.Default = opts.DefaultExpert
	})

	rt := router.New(registry, p, func(o *router.Options) {
		o.EnableHybrid = opts.EnableHybridRouting
		o.Logger = opts.Logger
	})

	fl := flow.New(registry, rt, p, func(o *flow.Options) {
		o.SessionStore = opts.SessionStore
		o.Logger = opts.Logger
		o.MaxHistoryTurns = opts.MaxHistoryTurns
		o.ParallelDispatch = opts.ParallelDispatch
	})

	return &Switchboard{registry: registry, flow: fl}
}

// RegisterExpert adds an expert to the registry.
func (s *Switchboard) RegisterExpert(e *expert.Expert) error {
	return s.registry.Register(e)
}

// RegisterExperts adds multiple experts, stopping at the first failure.
func (s *Switchboard) RegisterExperts(experts ...*expert.Expert) error {
	for _, e := range experts {
		if err := s.registry.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying expert registry.
func (s *Switchboard) Registry() *expert.Registry { return s.registry }

// ProcessTurn runs one conversation turn for the given user id.
func (s *Switchboard) ProcessTurn(ctx context.Context, userID, message string) (*core.TurnResult, error) {
	return s.flow.ProcessTurn(ctx, userID, message)
}

// ProcessTurnStream runs one turn forwarding response fragments to
// onFragment as they arrive. Streaming degrades to buffered delivery when
// the turn dispatches multiple experts or the selected expert carries tools;
// the returned result always contains the full text either way.
func (s *Switchboard) ProcessTurnStream(ctx context.Context, userID, message string, onFragment func(fragment string)) (*core.TurnResult, error) {
	return s.flow.ProcessTurn(ctx, userID, message, func(o *flow.TurnOptions) {
		o.Stream = true
		o.OnFragment = onFragment
	})
}

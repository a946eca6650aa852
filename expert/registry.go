package expert

import (
	"sync"

	"github.com/hupe1980/switchboard/core"
)

// DefaultExpertName is the name of the auto-synthesized fallback persona used
// when the caller designates no default expert.
const DefaultExpertName = "orchestrator"

// RegistryOptions configures a Registry instance.
type RegistryOptions struct {
	// Default designates the fallback expert returned by Resolve for unknown
	// names. When nil, the registry adopts an expert named "orchestrator" if
	// one is registered, or synthesizes a generic one on first use.
	Default *Expert
}

// Registry holds the named experts of one switchboard instance. Lookup via
// Resolve never fails: unknown or empty names yield the default expert, so
// the flow can never dereference a missing expert. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	experts     map[string]*Expert
	order       []string
	defaultName string
}

// NewRegistry constructs an empty registry with optional overrides.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{experts: map[string]*Expert{}}
	if opts.Default != nil {
		_ = r.Register(opts.Default)
		r.defaultName = opts.Default.Name
	}
	return r
}

// Register adds an expert. It fails with *core.DuplicateExpertError when the
// name is already taken.
func (r *Registry) Register(e *Expert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.experts[e.Name]; exists {
		return &core.DuplicateExpertError{Name: e.Name}
	}
	r.experts[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

// Resolve returns the expert registered under name, or the default expert
// when the name is unknown or empty.
func (r *Registry) Resolve(name string) *Expert {
	r.mu.RLock()
	if e, ok := r.experts[name]; ok {
		r.mu.RUnlock()
		return e
	}
	r.mu.RUnlock()
	return r.Default()
}

// Default returns the designated default expert, synthesizing and registering
// a generic orchestrator persona when the caller supplied none.
func (r *Registry) Default() *Expert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaultName != "" {
		return r.experts[r.defaultName]
	}
	if e, ok := r.experts[DefaultExpertName]; ok {
		r.defaultName = DefaultExpertName
		return e
	}

	e := &Expert{
		Name:         DefaultExpertName,
		Description:  "Handles general queries, greetings, and routing to other experts.",
		SystemPrompt: "You are a helpful AI assistant. You handle general queries and help route users to the right expert if needed.",
	}
	r.experts[e.Name] = e
	r.order = append(r.order, e.Name)
	r.defaultName = e.Name
	return e
}

// Has reports whether an expert is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.experts[name]
	return ok
}

// All returns the registered experts in registration order. The router
// depends on this order being stable so classification prompts are
// reproducible.
func (r *Registry) All() []*Expert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	experts := make([]*Expert, 0, len(r.order))
	for _, name := range r.order {
		experts = append(experts, r.experts[name])
	}
	return experts
}

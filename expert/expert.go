// Package expert defines the Expert persona type and the Registry that owns
// registered experts. Experts are immutable after registration; the router
// and the flow reference them through the registry, never copy them.
package expert

import (
	"github.com/hupe1980/switchboard/provider"
	"github.com/hupe1980/switchboard/tool"
)

// Expert is a named persona backed by a completion provider: a system prompt,
// a discriminating capability description used verbatim in the router's
// classification prompt, and an optional tool set.
type Expert struct {
	// Name is the unique, case-sensitive registry key.
	Name string
	// Description is a concise capability statement. The router places it
	// verbatim in the classification prompt, so it should discriminate this
	// expert from the others.
	Description string
	// SystemPrompt carries the persona instructions injected as the system
	// instruction of every completion call this expert handles.
	SystemPrompt string
	// Tools optionally extends the expert with callable functions.
	Tools []tool.Tool
	// Provider optionally overrides the flow's default completion provider
	// for this expert.
	Provider provider.Provider
}

// FindTool returns the named tool or nil when the expert does not carry it.
func (e *Expert) FindTool(name string) tool.Tool {
	for _, t := range e.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// ToolDefinitions converts the expert's tool set into provider declarations.
func (e *Expert) ToolDefinitions() []provider.ToolDefinition {
	if len(e.Tools) == 0 {
		return nil
	}
	defs := make([]provider.ToolDefinition, 0, len(e.Tools))
	for _, t := range e.Tools {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

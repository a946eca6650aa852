package tool

import "context"

// FunctionTool is a generic adapter that exposes a plain Go function as a
// switchboard tool.
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use by multiple goroutines. The parameters map should follow
// a minimal JSON Schema shape (type, properties, required); it is forwarded
// verbatim to the completion provider.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// User supplied implementation
	fn func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	shippingTool := NewFunctionTool(
//	  "calculate_shipping",
//	  "Calculate shipping cost based on weight and destination",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "weight":      map[string]any{"type": "number"},
//	      "destination": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"weight", "destination"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return quote(args["weight"].(float64), args["destination"].(string)), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the human readable description shown to the model.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing accepted arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call invokes the wrapped function. Errors that are not already a *ToolError
// are wrapped with the EXECUTION_ERROR code so callers receive a consistent
// shape.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.fn(ctx, args)
	if err != nil {
		if te, ok := err.(*ToolError); ok {
			return nil, te
		}
		return nil, NewToolError(t.name, err.Error(), "EXECUTION_ERROR")
	}
	return result, nil
}

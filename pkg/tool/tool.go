// Package tool defines the interfaces between agents and their tool sources.
package tool

import "context"

// Tool is a callable operation an agent may invoke during a run.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON Schema of the tool's input.
	Schema() map[string]any

	// Call invokes the tool. Tool-level failures (as opposed to transport
	// failures) are reported in the returned text so the model can react.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Toolset is a named collection of tools backed by a shared connection.
type Toolset interface {
	Name() string

	// Tools returns the available tools, connecting lazily if needed.
	Tools(ctx context.Context) ([]Tool, error)

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

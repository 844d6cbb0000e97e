// Package agent runs a single named, prompted participant against the
// hosted model runtime, optionally granting it a set of remote tools.
//
// An agent run is a fold over a finite stream of events: the model is
// called, requested tools are executed and fed back, and the loop repeats
// until the model produces a final message. Callers who only care about
// the outcome use RunSingleAgent, which keeps the last non-empty text.
package agent

import (
	"context"
	"fmt"

	"github.com/delfos-ai/delfos/pkg/llms"
	"github.com/delfos-ai/delfos/pkg/tool"
)

// DefaultMaxTurns bounds the model/tool loop of one agent run.
const DefaultMaxTurns = 10

// Agent is a named invocation unit: one instruction prompt, one model,
// optionally one toolset.
type Agent struct {
	name         string
	instructions string
	model        string
	provider     llms.Provider
	toolset      tool.Toolset
	maxTurns     int
}

// Option customizes an Agent.
type Option func(*Agent)

// WithToolset grants the agent access to a remote toolset.
func WithToolset(ts tool.Toolset) Option {
	return func(a *Agent) {
		a.toolset = ts
	}
}

// WithMaxTurns overrides the model/tool loop bound.
func WithMaxTurns(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxTurns = n
		}
	}
}

// New creates an agent.
func New(name, instructions, model string, provider llms.Provider, opts ...Option) *Agent {
	a := &Agent{
		name:         name,
		instructions: instructions,
		model:        model,
		provider:     provider,
		maxTurns:     DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string {
	return a.name
}

// Model returns the configured model identifier.
func (a *Agent) Model() string {
	return a.model
}

// Run executes the agent against input and streams execution events.
// The returned channel is closed when the run terminates; the sequence is
// finite and not restartable. A terminal failure surfaces as a single
// EventError before the channel closes.
func (a *Agent) Run(ctx context.Context, input string) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		a.run(ctx, input, events)
	}()

	return events
}

func (a *Agent) run(ctx context.Context, input string, events chan<- Event) {
	var toolDefs []llms.ToolDefinition
	toolsByName := map[string]tool.Tool{}

	if a.toolset != nil {
		tools, err := a.toolset.Tools(ctx)
		if err != nil {
			emit(ctx, events, errorEvent(a.name, fmt.Errorf("failed to load tools for agent %s: %w", a.name, err)))
			return
		}
		for _, t := range tools {
			toolsByName[t.Name()] = t
			toolDefs = append(toolDefs, llms.ToolDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			})
		}
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: a.instructions},
		{Role: llms.RoleUser, Content: input},
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		result, err := a.provider.Chat(ctx, a.model, messages, toolDefs)
		if err != nil {
			emit(ctx, events, errorEvent(a.name, err))
			return
		}

		if result.Text != "" {
			emit(ctx, events, Event{
				Kind:   EventMessage,
				Author: a.name,
				Text:   result.Text,
				Final:  len(result.ToolCalls) == 0,
			})
		}

		if len(result.ToolCalls) == 0 {
			return
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})

		for _, tc := range result.ToolCalls {
			emit(ctx, events, Event{
				Kind:     EventToolCall,
				Author:   a.name,
				ToolName: tc.Name,
			})

			output, err := a.callTool(ctx, toolsByName, tc)
			if err != nil {
				emit(ctx, events, errorEvent(a.name, err))
				return
			}

			emit(ctx, events, Event{
				Kind:     EventToolResult,
				Author:   a.name,
				ToolName: tc.Name,
				Text:     output,
			})

			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	emit(ctx, events, errorEvent(a.name, fmt.Errorf("agent %s exceeded %d turns without a final message", a.name, a.maxTurns)))
}

// callTool executes one requested tool. An unknown tool name is reported
// back to the model as text so it gets a chance to correct itself.
func (a *Agent) callTool(ctx context.Context, toolsByName map[string]tool.Tool, tc llms.ToolCall) (string, error) {
	t, ok := toolsByName[tc.Name]
	if !ok {
		return fmt.Sprintf("tool error: unknown tool %q", tc.Name), nil
	}
	return t.Call(ctx, tc.Arguments)
}

func emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

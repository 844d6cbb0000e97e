package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-ai/delfos/pkg/llms"
	"github.com/delfos-ai/delfos/pkg/tool"
)

// scriptedProvider returns canned results in order.
type scriptedProvider struct {
	results []*llms.Result
	errs    []error
	calls   int
	lastMsg []llms.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, model string, messages []llms.Message, tools []llms.ToolDefinition) (*llms.Result, error) {
	i := p.calls
	p.calls++
	p.lastMsg = messages
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return &llms.Result{Text: "done"}, nil
}

type fakeTool struct {
	name   string
	output string
	calls  int
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake" }
func (t *fakeTool) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (t *fakeTool) Call(ctx context.Context, args map[string]any) (string, error) {
	t.calls++
	return t.output, nil
}

type fakeToolset struct {
	tools  []tool.Tool
	closed bool
}

func (ts *fakeToolset) Name() string                                  { return "fake" }
func (ts *fakeToolset) Tools(ctx context.Context) ([]tool.Tool, error) { return ts.tools, nil }
func (ts *fakeToolset) Close() error                                  { ts.closed = true; return nil }

func TestRunSingleAgentKeepsLastMessage(t *testing.T) {
	provider := &scriptedProvider{
		results: []*llms.Result{
			{Text: "thinking...", ToolCalls: []llms.ToolCall{{ID: "1", Name: "execute_sql_query"}}},
			{Text: `{"resumen": "final"}`},
		},
	}
	sqlTool := &fakeTool{name: "execute_sql_query", output: `[{"tipo": "hipoteca"}]`}
	a := New("SQLAgent", "instructions", "gpt-test", provider,
		WithToolset(&fakeToolset{tools: []tool.Tool{sqlTool}}))

	out, err := RunSingleAgent(context.Background(), a, "pregunta")
	require.NoError(t, err)
	assert.Equal(t, `{"resumen": "final"}`, out)
	assert.Equal(t, 1, sqlTool.calls)
	assert.Equal(t, 2, provider.calls)

	// Tool output must have been fed back to the model.
	last := provider.lastMsg[len(provider.lastMsg)-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Equal(t, sqlTool.output, last.Content)
}

func TestRunSingleAgentProviderError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("boom")}}
	a := New("IntentAgent", "instructions", "gpt-test", provider)

	_, err := RunSingleAgent(context.Background(), a, "pregunta")
	assert.ErrorContains(t, err, "boom")
}

func TestRunSingleAgentUnknownToolIsReportedToModel(t *testing.T) {
	provider := &scriptedProvider{
		results: []*llms.Result{
			{ToolCalls: []llms.ToolCall{{ID: "1", Name: "nonexistent"}}},
			{Text: "recovered"},
		},
	}
	a := New("SQLAgent", "instructions", "gpt-test", provider,
		WithToolset(&fakeToolset{}))

	out, err := RunSingleAgent(context.Background(), a, "pregunta")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	last := provider.lastMsg[len(provider.lastMsg)-1]
	assert.Contains(t, last.Content, "unknown tool")
}

func TestRunSingleAgentMaxTurns(t *testing.T) {
	// Provider endlessly requests tools; the loop must terminate.
	provider := &scriptedProvider{}
	looping := &fakeTool{name: "loop", output: "again"}
	for i := 0; i < 5; i++ {
		provider.results = append(provider.results, &llms.Result{
			ToolCalls: []llms.ToolCall{{ID: "x", Name: "loop"}},
		})
	}
	a := New("SQLAgent", "instructions", "gpt-test", provider,
		WithToolset(&fakeToolset{tools: []tool.Tool{looping}}),
		WithMaxTurns(3))

	_, err := RunSingleAgent(context.Background(), a, "pregunta")
	assert.ErrorContains(t, err, "exceeded 3 turns")
}

func TestRunEmitsErrorEvent(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("boom")}}
	a := New("SQLAgent", "instructions", "gpt-test", provider)

	var events []Event
	for ev := range a.Run(context.Background(), "question") {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "SQLAgent", events[0].Author)
	assert.EqualError(t, events[0].Err, "boom")
}

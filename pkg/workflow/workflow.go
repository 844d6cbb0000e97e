// Package workflow sequences the agent pipeline that turns a natural
// language question into a structured, optionally visualized answer:
// intent classification and SQL generation run concurrently, then a
// branch gate decides whether visualization and chart rendering run,
// and a formatting stage composes the final response.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/delfos-ai/delfos/pkg/agent"
	"github.com/delfos-ai/delfos/pkg/auditlog"
	"github.com/delfos-ai/delfos/pkg/config"
	"github.com/delfos-ai/delfos/pkg/jsonx"
	"github.com/delfos-ai/delfos/pkg/llms"
	"github.com/delfos-ai/delfos/pkg/logger"
	"github.com/delfos-ai/delfos/pkg/tool"
	"github.com/delfos-ai/delfos/pkg/tool/mcptoolset"
)

// Agent names used for audit records and Stage 1 result reconciliation.
const (
	IntentAgentName   = "IntentAgent"
	SQLAgentName      = "SQLAgent"
	VizAgentName      = "VizAgent"
	GraphExecutorName = "GraphExecutor"
	FormatAgentName   = "FormatAgent"
)

// Prompts holds the per-stage instruction strings.
type Prompts struct {
	Intent string
	SQL    string
	Viz    string
	Graph  string
	Format string
}

// DefaultPrompts returns the built-in prompt catalog.
func DefaultPrompts() Prompts {
	return Prompts{
		Intent: IntentAgentInstructions,
		SQL:    SQLAgentInstructions,
		Viz:    VizAgentInstructions,
		Graph:  GraphExecutorInstructions,
		Format: FormatAgentInstructions,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPrompts replaces the built-in prompt catalog. Empty fields keep
// their defaults.
func WithPrompts(p Prompts) Option {
	return func(o *Orchestrator) {
		if p.Intent != "" {
			o.prompts.Intent = p.Intent
		}
		if p.SQL != "" {
			o.prompts.SQL = p.SQL
		}
		if p.Viz != "" {
			o.prompts.Viz = p.Viz
		}
		if p.Graph != "" {
			o.prompts.Graph = p.Graph
		}
		if p.Format != "" {
			o.prompts.Format = p.Format
		}
	}
}

// Orchestrator drives one question through the agent pipeline. It is
// safe for concurrent use; all per-run state lives on the stack of Run.
type Orchestrator struct {
	cfg      *config.Settings
	provider llms.Provider
	retry    agent.RetryConfig
	prompts  Prompts
	logger   *slog.Logger

	// Seams for tests. Production wiring is installed by New.
	runAgent    func(ctx context.Context, a *agent.Agent, input string) (string, error)
	openToolset func(name, url string) (tool.Toolset, error)
	newAudit    func() *auditlog.Logger
}

// New builds an orchestrator from validated settings and an LLM provider.
func New(cfg *config.Settings, provider llms.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		prompts:  DefaultPrompts(),
		retry: agent.RetryConfig{
			MaxRetries:       cfg.MaxRetries,
			InitialDelay:     time.Duration(cfg.RetryInitialDelay * float64(time.Second)),
			BackoffFactor:    cfg.RetryBackoffFactor,
			RetryOnRateLimit: true,
		},
		logger: logger.GetLogger(),
	}
	o.runAgent = func(ctx context.Context, a *agent.Agent, input string) (string, error) {
		return agent.RunSingleAgentWithRetry(ctx, a, input, o.retry)
	}
	o.openToolset = func(name, url string) (tool.Toolset, error) {
		return mcptoolset.New(mcptoolset.Config{
			Name:          name,
			URL:           url,
			Timeout:       cfg.MCPRequestTimeout(),
			StreamTimeout: cfg.MCPStreamTimeout(),
			MaxRetries:    cfg.MaxRetries,
		})
	}
	o.newAudit = func() *auditlog.Logger {
		return auditlog.New(cfg.AuditLogDir)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full pipeline for one question. It never returns an
// error: every failure mode is folded into the ChatResponse so the
// caller can serialize it directly.
func (o *Orchestrator) Run(ctx context.Context, message, userID string) *ChatResponse {
	if userID == "" {
		userID = "anonymous"
	}
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.RequestTimeout)*time.Second)
		defer cancel()
	}

	resp := &ChatResponse{Success: false, Message: "Iniciando..."}

	audit := o.newAudit()
	if _, err := audit.StartSession(userID, message); err != nil {
		o.logger.Warn("failed to start audit session", "error", err)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("workflow panic", "panic", r)
			resp.Success = false
			resp.Message = fmt.Sprintf("System error: %v", r)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%v", r))
		}
		if err := audit.EndSession(resp.Success, resp.Message, resp.Errors); err != nil {
			o.logger.Warn("failed to end audit session", "error", err)
		}
		recordRun(resp.Success)
	}()

	primary, err := o.openToolset("delfos-mcp", o.cfg.MCPServerURL)
	if err != nil {
		return o.fatal(resp, fmt.Errorf("failed to open tool channel: %w", err))
	}
	defer func() {
		if err := primary.Close(); err != nil {
			o.logger.Warn("failed to close tool channel", "error", err)
		}
	}()

	// Stage 1: intent classification and SQL generation against the
	// same question. Results are reconciled by agent identity, never
	// by completion order.
	intentAgent := agent.New(IntentAgentName, o.prompts.Intent, o.cfg.IntentAgentModel, o.provider)
	sqlAgent := agent.New(SQLAgentName, o.prompts.SQL, o.cfg.SQLAgentModel, o.provider,
		agent.WithToolset(primary))

	var (
		rawIntent, rawSQL string
		intentMS, sqlMS   float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawIntent, intentMS, err = o.callAgent(gctx, intentAgent, message)
		return err
	})
	g.Go(func() error {
		var err error
		rawSQL, sqlMS, err = o.callAgent(gctx, sqlAgent, message)
		return err
	})
	if err := g.Wait(); err != nil {
		return o.fatal(resp, err)
	}

	intentData := jsonx.ExtractJSON(rawIntent)
	o.record(audit, resp, IntentAgentName, rawIntent, intentData, message, intentMS)
	resp.Intent = ParseIntent(intentData)
	resp.Intent.UserQuestion = message
	o.logger.Info("intent detected", "intent", resp.Intent.Intent)

	sqlData := jsonx.ExtractJSON(rawSQL)
	o.record(audit, resp, SQLAgentName, rawSQL, sqlData, message, sqlMS)

	if _, ok := sqlData["resultados"]; !ok {
		resp.Message = rawSQL
		if resp.Message == "" {
			resp.Message = "Error executing SQL query"
		}
		resp.Errors = append(resp.Errors, "SQL stage did not complete successfully")
		o.logger.Warn("sql stage returned no results", "agent", SQLAgentName)
		stageFailures.WithLabelValues(SQLAgentName).Inc()
		return resp
	}
	sqlResult, err := decodeSQLResult(sqlData)
	if err != nil {
		resp.Message = rawSQL
		resp.Errors = append(resp.Errors, fmt.Sprintf("failed to parse SQL results: %v", err))
		o.logger.Warn("sql result rejected", "error", err)
		stageFailures.WithLabelValues(SQLAgentName).Inc()
		return resp
	}
	resp.SQLData = sqlResult
	resp.Message = sqlResult.Resumen
	resp.Success = true

	// Stage 2: visualization, only when the intent asks for a chart.
	if resp.Intent.RequiresVisualization() && resp.SQLData != nil {
		o.logger.Info("starting visualization stage")
		vizAgent := agent.New(VizAgentName, o.prompts.Viz, o.cfg.VizAgentModel, o.provider,
			agent.WithToolset(primary))

		vizInput := marshalInput(map[string]any{
			"user_id":           userID,
			"sql_results":       sqlData,
			"original_question": message,
		})
		rawViz, vizMS, err := o.callAgent(ctx, vizAgent, vizInput)
		if err != nil {
			return o.fatal(resp, err)
		}
		vizData := jsonx.ExtractJSON(rawViz)
		o.record(audit, resp, VizAgentName, rawViz, vizData, vizInput, vizMS)

		if url, ok := vizData["powerbi_url"].(string); ok {
			if !strings.HasPrefix(url, "https://") ||
				strings.Contains(url, "URL_GENERADO") || strings.Contains(url, "URL_REAL") {
				o.logger.Warn("visualization returned a placeholder url", "url", url)
			}
			viz, err := decodeVizResult(vizData)
			if err != nil {
				o.logger.Warn("viz result rejected", "error", err)
				stageFailures.WithLabelValues(VizAgentName).Inc()
			} else {
				resp.VizData = viz
			}
		} else {
			o.logger.Warn("visualization did not return a url")
			stageFailures.WithLabelValues(VizAgentName).Inc()
		}
	}

	// Stage 2b: chart rendering on a separate tool channel, only when
	// the visualization produced both a run id and a chart type.
	if resp.VizData != nil && resp.VizData.RunID != "" && resp.VizData.TipoGrafico != "" {
		o.logger.Info("starting chart stage", "run_id", resp.VizData.RunID)
		if err := o.runChartStage(ctx, audit, resp); err != nil {
			return o.fatal(resp, err)
		}
	}

	// Stage 3: formatting. Runs whenever the SQL stage succeeded,
	// independent of the visualization branch.
	if resp.Success && resp.SQLData != nil {
		if err := o.runFormatStage(ctx, audit, resp, message); err != nil {
			return o.fatal(resp, err)
		}
	}

	resp.Success = true
	return resp
}

// runChartStage renders the chart image and merges the image URL into
// a fresh VizResult. An unreachable chart channel or a missing image
// url degrades to a warning; an agent invocation error is fatal, like
// the visualization stage.
func (o *Orchestrator) runChartStage(ctx context.Context, audit *auditlog.Logger, resp *ChatResponse) error {
	chartToolset, err := o.openToolset("chart-mcp", o.cfg.MCPChartServerURL)
	if err != nil {
		o.logger.Warn("failed to open chart tool channel", "error", err)
		stageFailures.WithLabelValues(GraphExecutorName).Inc()
		return nil
	}
	defer func() {
		if err := chartToolset.Close(); err != nil {
			o.logger.Warn("failed to close chart tool channel", "error", err)
		}
	}()

	graphAgent := agent.New(GraphExecutorName, o.prompts.Graph, o.cfg.GraphExecutorModel, o.provider,
		agent.WithToolset(chartToolset))

	graphInput := marshalInput(map[string]any{
		"run_id":       resp.VizData.RunID,
		"tipo_grafico": resp.VizData.TipoGrafico,
		"data_points":  resp.VizData.DataPoints,
	})
	rawGraph, graphMS, err := o.callAgent(ctx, graphAgent, graphInput)
	if err != nil {
		return err
	}
	graphData := jsonx.ExtractJSON(rawGraph)
	o.record(audit, resp, GraphExecutorName, rawGraph, graphData, graphInput, graphMS)

	if imageURL, ok := graphData["image_url"].(string); ok && imageURL != "" {
		merged := resp.VizData.WithImageURL(imageURL)
		resp.VizData = &merged
		o.logger.Info("chart image rendered", "image_url", imageURL)
	} else {
		o.logger.Warn("chart stage did not return an image url")
		stageFailures.WithLabelValues(GraphExecutorName).Inc()
	}
	return nil
}

// runFormatStage composes the final user-facing answer. A formatting
// agent that returns unusable JSON degrades to its raw text, then to
// the SQL summary.
func (o *Orchestrator) runFormatStage(ctx context.Context, audit *auditlog.Logger, resp *ChatResponse, message string) error {
	formatAgent := agent.New(FormatAgentName, o.prompts.Format, o.cfg.FormatAgentModel, o.provider)

	input := map[string]any{
		"pregunta_original": message,
		"intent":            string(resp.Intent.Intent),
		"tipo_patron":       resp.Intent.TipoPatron,
		"arquetipo":         resp.Intent.Arquetipo,
		"sql_data":          resp.SQLData,
	}
	if resp.VizData != nil {
		input["viz_data"] = resp.VizData
	}
	formatInput := marshalInput(input)

	rawFormat, formatMS, err := o.callAgent(ctx, formatAgent, formatInput)
	if err != nil {
		return err
	}
	formatData := jsonx.ExtractJSON(rawFormat)
	o.record(audit, resp, FormatAgentName, rawFormat, formatData, formatInput, formatMS)

	if len(formatData) > 0 {
		formatted, err := decodeFormattedResponse(formatData)
		if err == nil {
			resp.FormattedResponse = formatted
			return nil
		}
		o.logger.Warn("formatted response rejected", "error", err)
	} else {
		o.logger.Warn("formatting stage did not return json, using fallback")
	}
	stageFailures.WithLabelValues(FormatAgentName).Inc()

	fallback := stripFence(rawFormat)
	if fallback == "" {
		fallback = resp.SQLData.Resumen
	}
	resp.Message = fallback
	return nil
}

// callAgent runs one agent to completion and reports its duration.
func (o *Orchestrator) callAgent(ctx context.Context, a *agent.Agent, input string) (string, float64, error) {
	start := time.Now()
	out, err := o.runAgent(ctx, a, input)
	elapsed := time.Since(start)
	observeStage(a.Name(), elapsed.Seconds())
	if err != nil {
		return "", float64(elapsed.Milliseconds()), fmt.Errorf("%s: %w", a.Name(), err)
	}
	return out, float64(elapsed.Milliseconds()), nil
}

// record appends one invocation to the audit session and the response.
// Audit storage failures are logged and ignored.
func (o *Orchestrator) record(audit *auditlog.Logger, resp *ChatResponse, agentName, raw string, parsed map[string]any, input string, ms float64) {
	if _, err := audit.LogAgentResponse(agentName, raw, parsed, input, ms); err != nil {
		o.logger.Warn("failed to write audit record", "agent", agentName, "error", err)
	}
	resp.AgentOutputs = append(resp.AgentOutputs, AgentOutput{
		AgentName:       agentName,
		RawResponse:     raw,
		ParsedResponse:  parsed,
		ExecutionTimeMS: ms,
		InputText:       input,
	})
}

// fatal folds an unhandled stage error into the response. The deferred
// teardown in Run still closes the audit session.
func (o *Orchestrator) fatal(resp *ChatResponse, err error) *ChatResponse {
	o.logger.Error("workflow failed", "error", err)
	resp.Success = false
	resp.Message = fmt.Sprintf("System error: %v", err)
	resp.Errors = append(resp.Errors, err.Error())
	return resp
}

func marshalInput(v map[string]any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// stripFence removes a single fenced code wrapper around text, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= 2 {
		return text
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

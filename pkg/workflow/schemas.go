package workflow

import (
	"fmt"

	"github.com/delfos-ai/delfos/pkg/jsonx"
)

// IntentResult is the classification produced by the intent agent.
// Field names follow the analytics domain vocabulary used by the
// downstream formatting agent.
type IntentResult struct {
	UserQuestion string `json:"user_question,omitempty"`
	Intent       Intent `json:"intent"`
	TipoPatron   string `json:"tipo_patron,omitempty"`
	Arquetipo    string `json:"arquetipo,omitempty"`
	Razon        string `json:"razon,omitempty"`
}

// SQLResult carries the database answer produced by the SQL agent.
type SQLResult struct {
	PreguntaOriginal string           `json:"pregunta_original"`
	SQL              string           `json:"sql"`
	Tablas           []string         `json:"tablas,omitempty"`
	Resultados       []map[string]any `json:"resultados"`
	TotalFilas       int              `json:"total_filas"`
	Resumen          string           `json:"resumen"`
}

// Validate checks the fields the rest of the pipeline depends on.
// An empty result set is valid; missing narrative fields are not.
func (r *SQLResult) Validate() error {
	if r.PreguntaOriginal == "" {
		return fmt.Errorf("sql result missing pregunta_original")
	}
	if r.SQL == "" {
		return fmt.Errorf("sql result missing sql")
	}
	if r.Resumen == "" {
		return fmt.Errorf("sql result missing resumen")
	}
	return nil
}

// VizResult describes the visualization prepared by the viz agent and,
// after the chart stage, the rendered image.
type VizResult struct {
	TipoGrafico string           `json:"tipo_grafico"`
	MetricName  string           `json:"metric_name,omitempty"`
	DataPoints  []map[string]any `json:"data_points,omitempty"`
	PowerBIURL  string           `json:"powerbi_url,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
	ImageBase64 string           `json:"image_base64,omitempty"`
	ImageURL    string           `json:"image_url,omitempty"`
}

// WithImageURL returns a copy carrying the rendered chart URL. The
// receiver is never mutated so earlier stage snapshots stay intact.
func (v VizResult) WithImageURL(url string) VizResult {
	v.ImageURL = url
	return v
}

// FormattedResponse is the final user-facing payload assembled by the
// formatting agent.
type FormattedResponse struct {
	Patron        string `json:"patron,omitempty"`
	Datos         string `json:"datos,omitempty"`
	Arquetipo     string `json:"arquetipo,omitempty"`
	Visualizacion string `json:"visualizacion,omitempty"`
	TipoGrafica   string `json:"tipo_grafica,omitempty"`
	Imagen        string `json:"imagen,omitempty"`
	LinkPowerBI   string `json:"link_power_bi,omitempty"`
	Insight       string `json:"insight,omitempty"`
}

// AgentOutput is the audit trail entry for one agent invocation.
type AgentOutput struct {
	AgentName       string         `json:"agent_name"`
	RawResponse     string         `json:"raw_response"`
	ParsedResponse  map[string]any `json:"parsed_response,omitempty"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	InputText       string         `json:"input_text,omitempty"`
}

// ChatResponse aggregates everything a run produced. Success reports
// whether the pipeline reached the formatting stage; soft failures in
// optional stages are surfaced through Errors without flipping it.
type ChatResponse struct {
	Success           bool               `json:"success"`
	Message           string             `json:"message"`
	Intent            *IntentResult      `json:"intent,omitempty"`
	SQLData           *SQLResult         `json:"sql_data,omitempty"`
	VizData           *VizResult         `json:"viz_data,omitempty"`
	FormattedResponse *FormattedResponse `json:"formatted_response,omitempty"`
	AgentOutputs      []AgentOutput      `json:"agent_outputs,omitempty"`
	Errors            []string           `json:"errors,omitempty"`
}

func decodeSQLResult(data map[string]any) (*SQLResult, error) {
	var r SQLResult
	if err := jsonx.DecodeInto(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode sql result: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeVizResult(data map[string]any) (*VizResult, error) {
	var v VizResult
	if err := jsonx.DecodeInto(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode viz result: %w", err)
	}
	return &v, nil
}

func decodeFormattedResponse(data map[string]any) (*FormattedResponse, error) {
	var f FormattedResponse
	if err := jsonx.DecodeInto(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode formatted response: %w", err)
	}
	return &f, nil
}

package workflow

import "strings"

// Intent is the classified question type. The value decides whether a
// question is answered with a plain summary or also gets a chart.
type Intent string

const (
	// IntentNivelPuntual is a point question answered by the SQL summary
	// alone. It is also the default for absent or unrecognized values.
	IntentNivelPuntual Intent = "nivel_puntual"

	// IntentRequiereVisualizacion asks for a chart alongside the answer.
	IntentRequiereVisualizacion Intent = "requiere_visualizacion"
)

// ParseIntentValue normalizes a raw intent label. Anything that is not
// a known value collapses to nivel_puntual so a sloppy classification
// never breaks the run.
func ParseIntentValue(raw string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentRequiereVisualizacion:
		return IntentRequiereVisualizacion
	default:
		return IntentNivelPuntual
	}
}

// ParseIntent decodes the intent agent's parsed output.
func ParseIntent(data map[string]any) *IntentResult {
	r := &IntentResult{Intent: IntentNivelPuntual}
	if data == nil {
		return r
	}
	if v, ok := data["user_question"].(string); ok {
		r.UserQuestion = v
	}
	if v, ok := data["intent"].(string); ok {
		r.Intent = ParseIntentValue(v)
	}
	if v, ok := data["tipo_patron"].(string); ok {
		r.TipoPatron = v
	}
	if v, ok := data["arquetipo"].(string); ok {
		r.Arquetipo = v
	}
	if v, ok := data["razon"].(string); ok {
		r.Razon = v
	}
	return r
}

// RequiresVisualization reports whether the classified intent asks for
// a chart in addition to the textual answer.
func (r *IntentResult) RequiresVisualization() bool {
	return r != nil && r.Intent == IntentRequiereVisualizacion
}

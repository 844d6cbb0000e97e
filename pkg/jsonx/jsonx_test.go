package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "plain json object",
			text: `{"intent": "nivel_puntual", "total": 3}`,
			want: map[string]any{"intent": "nivel_puntual", "total": float64(3)},
		},
		{
			name: "fenced json block",
			text: "Here is the result:\n```json\n{\"resumen\": \"ok\"}\n```\nDone.",
			want: map[string]any{"resumen": "ok"},
		},
		{
			name: "fenced block without language tag",
			text: "```\n{\"a\": 1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "json embedded in prose",
			text: `The answer is {"sql": "SELECT 1"} as requested.`,
			want: map[string]any{"sql": "SELECT 1"},
		},
		{
			name: "nested braces in values",
			text: `prefix {"outer": {"inner": "value"}} suffix`,
			want: map[string]any{"outer": map[string]any{"inner": "value"}},
		},
		{
			name: "leading and trailing whitespace",
			text: "  \n {\"x\": true} \n ",
			want: map[string]any{"x": true},
		},
		{
			name: "empty string",
			text: "",
			want: map[string]any{},
		},
		{
			name: "plain prose without json",
			text: "No pude ejecutar la consulta por un error de conexión.",
			want: map[string]any{},
		},
		{
			name: "truncated json",
			text: `{"resultados": [{"tipo": "hipoteca"`,
			want: map[string]any{},
		},
		{
			name: "json array is not an object",
			text: `[1, 2, 3]`,
			want: map[string]any{},
		},
		{
			name: "null literal",
			text: `null`,
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONRoundTrip(t *testing.T) {
	original := map[string]any{
		"pregunta_original": "¿Cuál es el total de préstamos por tipo?",
		"total_filas":       float64(3),
		"tablas":            []any{"dbo.Loans"},
	}
	serialized, err := json.Marshal(original)
	require.NoError(t, err)

	assert.Equal(t, original, ExtractJSON(string(serialized)))
}

func TestExtractJSONFencedEqualsRaw(t *testing.T) {
	raw := `{"tipo_grafico": "bar", "run_id": "abc123"}`
	fenced := "```json\n" + raw + "\n```"

	assert.Equal(t, ExtractJSON(raw), ExtractJSON(fenced))
}

func TestDecodeInto(t *testing.T) {
	type row struct {
		Name  string  `json:"pregunta_original"`
		Total int     `json:"total_filas"`
		Score float64 `json:"score"`
	}

	// JSON numbers arrive as float64; decoding must coerce them.
	data := map[string]any{
		"pregunta_original": "test",
		"total_filas":       float64(42),
		"score":             1.5,
	}

	var r row
	require.NoError(t, DecodeInto(data, &r))
	assert.Equal(t, "test", r.Name)
	assert.Equal(t, 42, r.Total)
	assert.Equal(t, 1.5, r.Score)
}

func TestDecodeIntoStructuralMismatch(t *testing.T) {
	type row struct {
		Items []map[string]any `json:"resultados"`
	}

	var r row
	err := DecodeInto(map[string]any{"resultados": map[string]any{"not": "a list"}}, &r)
	assert.Error(t, err)
}

package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-ai/delfos/pkg/httpclient"
)

// mcpHandler is a minimal MCP server over HTTP JSON-RPC.
func mcpHandler(t *testing.T, sse bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "session-123")
			result = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			assert.Equal(t, "session-123", r.Header.Get("mcp-session-id"))
			result = map[string]any{
				"tools": []map[string]any{
					{
						"name":        "execute_sql_query",
						"description": "Run a SQL query",
						"inputSchema": map[string]any{"type": "object"},
					},
					{
						"name":        "generate_powerbi_url",
						"description": "Generate a Power BI URL",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			}
		case "tools/call":
			params := req.Params.(map[string]any)
			result = map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": fmt.Sprintf("called %s", params["name"])},
				},
			}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}

		resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
		payload, err := json.Marshal(resp)
		require.NoError(t, err)

		if sse {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}
}

func newConnectedToolset(t *testing.T, sse bool) *Toolset {
	t.Helper()
	srv := httptest.NewServer(mcpHandler(t, sse))
	t.Cleanup(srv.Close)

	ts, err := New(Config{
		Name:          "delfos-mcp",
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		StreamTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Config{Name: "empty"})
	assert.Error(t, err)
}

func TestToolsListsRemoteTools(t *testing.T) {
	ts := newConnectedToolset(t, false)

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "execute_sql_query", tools[0].Name())
	assert.Equal(t, "Run a SQL query", tools[0].Description())
	assert.Equal(t, map[string]any{"type": "object"}, tools[0].Schema())
}

func TestToolsConnectsLazilyOnce(t *testing.T) {
	ts := newConnectedToolset(t, false)

	first, err := ts.Tools(context.Background())
	require.NoError(t, err)
	second, err := ts.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func TestCallReturnsToolText(t *testing.T) {
	ts := newConnectedToolset(t, false)

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)

	out, err := tools[0].Call(context.Background(), map[string]any{"query": "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, "called execute_sql_query", out)
}

func TestSSEResponses(t *testing.T) {
	ts := newConnectedToolset(t, true)

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	out, err := tools[1].Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "called generate_powerbi_url", out)
}

func TestToolErrorComesBackAsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "broken", "description": "", "inputSchema": map[string]any{}},
			}}
		case "tools/call":
			result = map[string]any{
				"isError": true,
				"content": []map[string]any{{"type": "text", "text": "query rejected"}},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
	defer srv.Close()

	ts, err := New(Config{Name: "t", URL: srv.URL})
	require.NoError(t, err)
	defer ts.Close()

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)

	out, err := tools[0].Call(context.Background(), nil)
	require.NoError(t, err, "tool-level failures must not be transport errors")
	assert.Equal(t, "tool error: query rejected", out)
}

func TestCloseResetsConnection(t *testing.T) {
	ts := newConnectedToolset(t, false)

	_, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.NoError(t, ts.Close())

	// Reconnects lazily after close.
	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ts, err := New(Config{Name: "t", URL: srv.URL})
	require.NoError(t, err)

	_, err = ts.Tools(context.Background())
	assert.Error(t, err)
}

// trackingBody records whether the response body was closed.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error { b.closed = true; return nil }

type staticTransport struct {
	status int
	body   *trackingBody
}

func (st *staticTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: st.status,
		Status:     http.StatusText(st.status),
		Header:     http.Header{},
		Body:       st.body,
		Request:    r,
	}, nil
}

func TestRequestErrorClosesResponseBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("bad request")}
	ts, err := New(Config{Name: "t", URL: "http://mcp.invalid"})
	require.NoError(t, err)
	ts.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Transport: &staticTransport{status: http.StatusBadRequest, body: body}}),
		httpclient.WithMaxRetries(0),
	)

	_, err = ts.makeHTTPRequest(context.Background(), "tools/list", nil)

	assert.Error(t, err)
	assert.True(t, body.closed, "response body must be closed when Do returns an error")
}

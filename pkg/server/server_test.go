package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfos-ai/delfos/pkg/config"
	"github.com/delfos-ai/delfos/pkg/workflow"
)

type stubRunner struct {
	lastMessage string
	lastUserID  string
	resp        *workflow.ChatResponse
}

func (r *stubRunner) Run(ctx context.Context, message, userID string) *workflow.ChatResponse {
	r.lastMessage = message
	r.lastUserID = userID
	return r.resp
}

func newTestServer(runner Runner) *Server {
	return New(&config.Settings{HTTPAddr: ":0"}, runner)
}

func TestHandleChat(t *testing.T) {
	runner := &stubRunner{resp: &workflow.ChatResponse{
		Success: true,
		Message: "Hay 22 préstamos.",
	}}
	srv := newTestServer(runner)

	body := `{"message": "¿Cuál es el total?", "user_id": "u1"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "¿Cuál es el total?", runner.lastMessage)
	assert.Equal(t, "u1", runner.lastUserID)

	var resp workflow.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Hay 22 préstamos.", resp.Message)
}

func TestHandleChatFailedRunStillReturns200(t *testing.T) {
	// Workflow failures are payload content, not transport errors.
	runner := &stubRunner{resp: &workflow.ChatResponse{
		Success: false,
		Message: "System error: boom",
		Errors:  []string{"boom"},
	}}
	srv := newTestServer(runner)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "q"}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp workflow.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(&stubRunner{resp: &workflow.ChatResponse{}})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"user_id": "u1"}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(&stubRunner{resp: &workflow.ChatResponse{}})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubRunner{resp: &workflow.ChatResponse{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&stubRunner{resp: &workflow.ChatResponse{}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/implementer"
	"github.com/tarsy-labs/forge/pkg/llmagent/fake"
	"github.com/tarsy-labs/forge/pkg/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubImplementer struct{}

func (stubImplementer) Generate(_ context.Context, _ artifact.SystemArchitecture) (artifact.GeneratedCode, error) {
	return artifact.GeneratedCode{
		Files:        []artifact.CodeFile{{Path: "app/main.py", Content: "app = FastAPI()"}},
		Dependencies: artifact.BaselineDependencies,
	}, nil
}

func (stubImplementer) PatchFiles(_ context.Context, _ artifact.SystemArchitecture, current artifact.GeneratedCode, _ []artifact.FilePatchRequest, _ map[string][]string) (artifact.GeneratedCode, error) {
	return current, nil
}

func testServer() *Server {
	client := fake.New().
		QueueStructured("project_charter", map[string]any{
			"project_name": "Todo API",
			"description":  "todo list",
			"entities":     []map[string]any{{"name": "Todo", "fields": []map[string]any{{"name": "title", "type_hint": "str", "required": true}}}},
			"endpoints":    []map[string]any{{"method": "GET", "path": "/todos", "description": "list"}},
		}).
		QueueStructured("system_architecture", map[string]any{"design_document": "design", "mermaid_diagram": "flowchart TD\n    A --> B"}).
		QueueStructured("review_report", map[string]any{"approved": true, "security_score": 9})

	return New(pipeline.Deps{
		LLM:         client,
		Implementer: implementer.New(stubImplementer{}),
		Timeouts:    config.Defaults().Timeouts,
	}, config.Defaults().Review)
}

func TestHealthEndpointReportsHealthy(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRunReturnsRunID(t *testing.T) {
	s := testServer()
	body, _ := json.Marshal(RunRequest{ProjectID: "proj-1", Prompt: "Build a todo API."})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])
}

func TestCreateRunRejectsMissingFields(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunEventsStreamsUntilCompletion(t *testing.T) {
	s := testServer()
	router := s.Router()

	body, _ := json.Marshal(RunRequest{ProjectID: "proj-1", Prompt: "Build a todo API."})
	createReq := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, createReq)

	var created map[string]string
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	runID := created["run_id"]

	eventsReq := httptest.NewRequest(http.MethodGet, "/runs/"+runID+"/events", nil)
	eventsRec := gin.CreateTestResponseRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(eventsRec, eventsReq)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event stream to complete")
	}

	assert.Contains(t, eventsRec.Body.String(), "event:completed")
}

func TestRunEventsReturnsNotFoundForUnknownRun(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist/events", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

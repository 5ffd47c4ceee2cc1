package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/forge/pkg/llmagent"
)

func TestGenerateStructuredDecodesJSONChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"project_name": "Todo API"}`}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4.1")
	var out struct {
		ProjectName string `json:"project_name"`
	}
	err := c.GenerateStructured(context.Background(), "system", "user", llmagent.Schema{Name: "project_charter"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Todo API", out.ProjectName)
}

func TestGenerateStructuredRecoversFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "```json\n{\"approved\": true}\n```"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4.1")
	var out struct {
		Approved bool `json:"approved"`
	}
	err := c.GenerateStructured(context.Background(), "system", "user", llmagent.Schema{Name: "review_report"}, &out)
	require.NoError(t, err)
	assert.True(t, out.Approved)
}

func TestGenerateStructuredPropagatesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4.1")
	var out map[string]any
	err := c.GenerateStructured(context.Background(), "system", "user", llmagent.Schema{Name: "x"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGenerateTextReturnsRawContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "plain text reply"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-4.1")
	text, err := c.GenerateText(context.Background(), "system", "user", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "plain text reply", text)
}

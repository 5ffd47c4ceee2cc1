// Package httpclient is a minimal OpenAI-compatible chat-completions client
// satisfying llmagent.Client. The concrete LLM provider is an external
// collaborator out of scope for this module: this adapter only needs to
// exist so cmd/forge has something real to wire up, not to be a
// full-featured provider SDK, so it talks plain JSON over net/http rather
// than pulling in a provider SDK the rest of the pack never uses.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tarsy-labs/forge/pkg/llmagent"
)

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// New builds a Client with a sane default timeout.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// strictJSONInstruction is appended to the system prompt for the single
// retry made when a structured response cannot be decoded.
const strictJSONInstruction = "\n\nRespond with one valid JSON value only: no prose, no Markdown fences."

// GenerateStructured implements llmagent.Client, requesting strict JSON mode
// and recovering the payload with llmagent.Decode. If the first response
// cannot be decoded, it retries once with a stricter instruction before
// giving up.
func (c *Client) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema llmagent.Schema, out any) error {
	raw, err := c.complete(ctx, systemPrompt, userPrompt, 0.2, map[string]any{"type": "json_object"})
	if err != nil {
		return fmt.Errorf("httpclient: structured call for schema %q: %w", schema.Name, err)
	}
	if err := llmagent.Decode(raw, out); err == nil {
		return nil
	}
	raw, err = c.complete(ctx, systemPrompt+strictJSONInstruction, userPrompt, 0.2, map[string]any{"type": "json_object"})
	if err != nil {
		return fmt.Errorf("httpclient: structured retry for schema %q: %w", schema.Name, err)
	}
	if err := llmagent.Decode(raw, out); err != nil {
		return fmt.Errorf("httpclient: decode %q response: %w", schema.Name, err)
	}
	return nil
}

// GenerateText implements llmagent.Client.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, temperature, nil)
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, responseFormat map[string]any) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    temperature,
		ResponseFormat: responseFormat,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ llmagent.Client = (*Client)(nil)

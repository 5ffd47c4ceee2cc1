// Package fake provides a deterministic, in-memory llmagent.Client used by
// pipeline, repair, and validator tests so they never depend on a real LLM
// provider.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tarsy-labs/forge/pkg/llmagent"
)

// StructuredResponse is a canned response keyed by schema name.
type StructuredResponse struct {
	Value any
	Err   error
}

// Client is a scripted llmagent.Client. Responses are consumed in FIFO
// order per schema name; once exhausted, the last registered response for
// that schema is reused (so a single fixture can serve many iterations of
// the same call).
type Client struct {
	mu         sync.Mutex
	structured map[string][]StructuredResponse
	text       []TextResponse
	calls      []Call
}

// TextResponse is a canned response for GenerateText.
type TextResponse struct {
	Value string
	Err   error
}

// Call records one invocation for test assertions.
type Call struct {
	Kind       string // "structured" or "text"
	SchemaName string
	SystemMsg  string
	UserMsg    string
}

// New creates an empty fake client.
func New() *Client {
	return &Client{structured: make(map[string][]StructuredResponse)}
}

// QueueStructured enqueues a response to return for the given schema name.
func (c *Client) QueueStructured(schemaName string, value any) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.structured[schemaName] = append(c.structured[schemaName], StructuredResponse{Value: value})
	return c
}

// QueueStructuredError enqueues an error to return for the given schema name.
func (c *Client) QueueStructuredError(schemaName string, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.structured[schemaName] = append(c.structured[schemaName], StructuredResponse{Err: err})
	return c
}

// QueueText enqueues a text response.
func (c *Client) QueueText(value string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, TextResponse{Value: value})
	return c
}

// Calls returns a copy of every recorded call, in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// GenerateStructured implements llmagent.Client.
func (c *Client) GenerateStructured(_ context.Context, systemPrompt, userPrompt string, schema llmagent.Schema, out any) error {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Kind: "structured", SchemaName: schema.Name, SystemMsg: systemPrompt, UserMsg: userPrompt})
	queue := c.structured[schema.Name]
	if len(queue) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("fake llmagent: no structured response queued for schema %q", schema.Name)
	}
	resp := queue[0]
	if len(queue) > 1 {
		c.structured[schema.Name] = queue[1:]
	}
	c.mu.Unlock()

	if resp.Err != nil {
		return resp.Err
	}
	raw, err := json.Marshal(resp.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// GenerateText implements llmagent.Client.
func (c *Client) GenerateText(_ context.Context, systemPrompt, userPrompt string, _ float64) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Kind: "text", SystemMsg: systemPrompt, UserMsg: userPrompt})
	if len(c.text) == 0 {
		c.mu.Unlock()
		return "", fmt.Errorf("fake llmagent: no text response queued")
	}
	resp := c.text[0]
	if len(c.text) > 1 {
		c.text = c.text[1:]
	}
	c.mu.Unlock()
	return resp.Value, resp.Err
}

var _ llmagent.Client = (*Client)(nil)

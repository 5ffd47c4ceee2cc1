// Package llmagent defines the pipeline's one external LLM capability and a
// best-effort JSON recovery layer on top of it. The concrete provider
// client (the thing that actually dials an LLM) is an external
// collaborator outside this module's scope — only the two-method contract
// is specified here.
package llmagent

import "context"

// Schema describes the shape a structured-output call must conform to.
// Concrete providers map this to whatever schema dialect they speak
// (JSON Schema, function-calling parameters, etc). It carries only a name
// here because schema translation is a provider concern.
type Schema struct {
	Name string
}

// Client is the core's only dependency on an LLM provider.
type Client interface {
	// GenerateStructured asks the LLM to produce JSON conforming to schema
	// and decodes it into out (a pointer). Implementations should apply
	// the recovery strategy in recover.go before giving up.
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema, out any) error

	// GenerateText asks the LLM for a free-form text completion.
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

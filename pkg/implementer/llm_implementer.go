package implementer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/llmagent"
)

// LLMImplementer drives the code-generation and patch prompts through an
// llmagent.Client. It is the default Implementer; tests use
// pkg/llmagent/fake instead of a real provider.
type LLMImplementer struct {
	Client llmagent.Client
}

var planSchema = llmagent.Schema{Name: "implementation_plan"}
var generateSchema = llmagent.Schema{Name: "generated_code"}
var patchSchema = llmagent.Schema{Name: "generated_code"}

const implementerSystemPrompt = `You are the implementer stage of a backend-code generation pipeline. You receive a system architecture and emit a complete FastAPI + SQLModel backend as a JSON object matching the GeneratedCode schema: {"files": [{"path": "...", "content": "..."}], "dependencies": ["..."]}. Every file path must start with "app/". Always include fastapi, sqlmodel, and uvicorn in dependencies.`

const planSystemPrompt = `You are planning the file layout for a FastAPI + SQLModel backend before writing any code. Respond with a JSON object matching {"modules": ["app/...", ...]}: the ordered list of module paths you intend to generate.`

// implementationPlan is the intermediate artifact of the plan step; it
// never leaves this package.
type implementationPlan struct {
	Modules []string `json:"modules"`
}

// defaultPlanModules is the fallback used when the plan step's response is
// malformed or empty.
var defaultPlanModules = []string{"app/main", "app/database", "app/models", "app/schemas", "app/routes"}

var authKeywords = []string{"auth", "login", "jwt", "oauth", "password", "token"}

// buildPlan asks the LLM for a module plan, falling back to a deterministic
// default (always the baseline five modules, plus app/auth when the
// architecture text mentions authentication) if the response comes back
// empty or fails to decode.
func (l *LLMImplementer) buildPlan(ctx context.Context, arch artifact.SystemArchitecture) []string {
	prompt := artifact.TruncatePrompt(fmt.Sprintf(
		"Design document:\n%s\n\nComponents: %s\n\nData model summary:\n%s\n\nEndpoint summary:\n%s\n",
		arch.DesignDocument, strings.Join(arch.Components, ", "), arch.DataModelSummary, arch.EndpointSummary,
	))

	var plan implementationPlan
	if err := l.Client.GenerateStructured(ctx, planSystemPrompt, prompt, planSchema, &plan); err != nil || len(plan.Modules) == 0 {
		return defaultPlan(arch)
	}
	return plan.Modules
}

func defaultPlan(arch artifact.SystemArchitecture) []string {
	modules := append([]string(nil), defaultPlanModules...)
	haystack := strings.ToLower(arch.DesignDocument + " " + strings.Join(arch.Components, " "))
	for _, kw := range authKeywords {
		if strings.Contains(haystack, kw) {
			return append(modules, "app/auth")
		}
	}
	return modules
}

// Generate implements Implementer. It runs a two-step plan→generate flow:
// a cheap plan call fixes the module list before the (expensive)
// full-bundle generation call, so the generation prompt can name every
// file it's expected to produce. All files come back from that one call;
// there is no separate call per file.
func (l *LLMImplementer) Generate(ctx context.Context, arch artifact.SystemArchitecture) (artifact.GeneratedCode, error) {
	plan := l.buildPlan(ctx, arch)

	prompt := artifact.TruncatePrompt(fmt.Sprintf(
		"Design document:\n%s\n\nMermaid diagram:\n%s\n\nComponents: %s\n\nData model summary:\n%s\n\nEndpoint summary:\n%s\n\nPlanned modules (produce exactly these, each as app/<name>.py): %s\n",
		arch.DesignDocument, arch.MermaidDiagram, strings.Join(arch.Components, ", "), arch.DataModelSummary, arch.EndpointSummary, strings.Join(plan, ", "),
	))

	var out artifact.GeneratedCode
	if err := l.Client.GenerateStructured(ctx, implementerSystemPrompt, prompt, generateSchema, &out); err != nil {
		return artifact.GeneratedCode{}, fmt.Errorf("implementer generate: %w", err)
	}
	if len(out.Files) == 0 {
		return artifact.GeneratedCode{}, ErrEmptyGeneration
	}
	return out, nil
}

// PatchFiles implements Implementer.
func (l *LLMImplementer) PatchFiles(ctx context.Context, arch artifact.SystemArchitecture, current artifact.GeneratedCode, patchRequests []artifact.FilePatchRequest, issuesByFile map[string][]string) (artifact.GeneratedCode, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Design document:\n%s\n\n", arch.DesignDocument)
	fmt.Fprintf(&b, "Current bundle (%d files):\n", len(current.Files))
	for _, f := range current.Files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, f.Content)
	}
	fmt.Fprintf(&b, "\nPatch requests:\n")
	for _, p := range patchRequests {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Path, p.Reason, strings.Join(p.Instructions, "; "))
		for _, issue := range issuesByFile[p.Path] {
			fmt.Fprintf(&b, "  issue: %s\n", issue)
		}
	}
	b.WriteString("\nReturn the complete, updated GeneratedCode bundle including every unchanged file.")

	var out artifact.GeneratedCode
	if err := l.Client.GenerateStructured(ctx, implementerSystemPrompt, artifact.TruncatePrompt(b.String()), patchSchema, &out); err != nil {
		return artifact.GeneratedCode{}, fmt.Errorf("implementer patch: %w", err)
	}
	return out, nil
}

var _ Implementer = (*LLMImplementer)(nil)

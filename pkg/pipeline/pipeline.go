// Package pipeline implements the stage orchestrator: a streaming,
// single-goroutine state machine that drives a run through Requirements →
// Architecture → Implementer → Review → Repair, emitting a totally ordered
// event stream and persisting each stage's artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/implementer"
	"github.com/tarsy-labs/forge/pkg/llmagent"
	"github.com/tarsy-labs/forge/pkg/mermaid"
	"github.com/tarsy-labs/forge/pkg/repair"
	"github.com/tarsy-labs/forge/pkg/sandbox"
	"github.com/tarsy-labs/forge/pkg/validator"
)

// RuntimeMode selects whether the pipeline runs the sandboxed repair phase.
type RuntimeMode string

// Supported runtime modes.
const (
	RuntimeModeSandbox  RuntimeMode = "sandbox"
	RuntimeModeLocalCLI RuntimeMode = "local_cli"
)

// StartStage selects where a run begins.
type StartStage string

// Supported start stages.
const (
	StartStageRequirements StartStage = "requirements"
	StartStageImplementer  StartStage = "implementer"
)

// DefaultMaxReviewIterations is the review loop's bound absent an override.
const DefaultMaxReviewIterations = 3

// ErrInvalidStartState is returned when StartStage=implementer is requested
// without an ArchitectureOverride.
var ErrInvalidStartState = errors.New("pipeline: start_stage=implementer requires an architecture_override")

// Options configures a single RunPipeline invocation.
type Options struct {
	RuntimeMode          RuntimeMode
	StartStage           StartStage
	CharterOverride      *artifact.ProjectCharter
	ArchitectureOverride *artifact.SystemArchitecture
	MaxReviewIterations  int
	MinSecurityScore     int
}

func (o Options) maxReviewIterations() int {
	if o.MaxReviewIterations > 0 {
		return o.MaxReviewIterations
	}
	return DefaultMaxReviewIterations
}

func (o Options) minSecurityScore() int {
	if o.MinSecurityScore > 0 {
		return o.MinSecurityScore
	}
	return artifact.MinApprovedSecurityScore
}

// Deps bundles the pipeline's external collaborators.
type Deps struct {
	LLM         llmagent.Client
	Implementer implementer.Implementer
	Harness     *sandbox.Harness
	Store       Store
	Timeouts    config.TimeoutConfig
}

var (
	charterSchema      = llmagent.Schema{Name: "project_charter"}
	architectureSchema = llmagent.Schema{Name: "system_architecture"}
	reviewSchema       = llmagent.Schema{Name: "review_report"}
)

// RunPipeline drives one run end-to-end and returns a channel of events,
// closed after exactly one terminal event (completed or error).
func RunPipeline(ctx context.Context, runID, projectID, prompt string, opts Options, deps Deps) <-chan Event {
	events := make(chan Event, 32)
	go func() {
		defer close(events)
		run(ctx, runID, projectID, prompt, opts, deps, events)
	}()
	return events
}

func run(ctx context.Context, runID, projectID, prompt string, opts Options, deps Deps, events chan<- Event) {
	emit := func(status Status, payload map[string]any) {
		events <- newEvent(runID, status, payload)
	}

	emit(StatusStarting, map[string]any{"project_id": projectID})

	if deps.Store != nil {
		_ = deps.Store.CreateRun(ctx, artifact.RunRecord{
			RunID: runID, ProjectID: projectID, Status: artifact.RunStatusRunning,
			Prompt: artifact.TruncatePrompt(prompt),
		})
	}

	if opts.StartStage == StartStageImplementer && opts.ArchitectureOverride == nil {
		fail(ctx, deps, runID, emit, ErrInvalidStartState)
		return
	}

	charter, ok := requirementsStage(ctx, runID, prompt, opts, deps, emit)
	if !ok {
		return
	}

	arch, ok := architectureStage(ctx, runID, charter, opts, deps, emit)
	if !ok {
		return
	}

	code, ok := implementerStage(ctx, runID, arch, deps, emit)
	if !ok {
		return
	}

	reviewReport, code := reviewStage(ctx, runID, arch, code, opts, deps, emit)

	repairReport, code := repairStage(ctx, runID, projectID, arch, code, reviewReport, opts, deps, emit)

	approved := reviewReport.Approved
	if opts.RuntimeMode == RuntimeModeSandbox {
		approved = approved && repairReport.Passed
	}

	message := completionMessage(opts, repairReport)
	_ = persistArtifact(ctx, deps.Store, runID, artifact.StageRepair, code)
	if deps.Store != nil {
		_ = deps.Store.UpdateRunStatus(ctx, runID, artifact.RunStatusCompleted)
	}

	emit(StatusCompleted, map[string]any{
		"approved":       approved,
		"message":        message,
		"review_report":  reviewReport,
		"repair_report":  repairReport,
		"file_count":     len(code.Files),
		"dependencies":   code.Dependencies,
	})
}

func completionMessage(opts Options, repairReport artifact.RepairReport) string {
	if opts.RuntimeMode != RuntimeModeSandbox {
		return "sandbox repair skipped: runtime_mode=local_cli"
	}
	if repairReport.Repaired && repairReport.Attempts > MaxTargetedOnlyAttempts() {
		return fmt.Sprintf("%s; escalated sandbox fixes applied", repairReport.Summary)
	}
	return repairReport.Summary
}

// MaxTargetedOnlyAttempts is the boundary past which a repair attempt count
// implies at least one escalation-phase call occurred.
func MaxTargetedOnlyAttempts() int {
	return repair.MaxTargetedIterations
}

// fail emits a terminal error event and marks the run failed. Used for
// invalid-input and malformed-LLM-output failures in early stages.
func fail(ctx context.Context, deps Deps, runID string, emit func(Status, map[string]any), err error) {
	if deps.Store != nil {
		_ = deps.Store.UpdateRunStatus(ctx, runID, artifact.RunStatusFailed)
	}
	emit(StatusError, map[string]any{"error": err.Error()})
}

func requirementsStage(ctx context.Context, runID, prompt string, opts Options, deps Deps, emit func(Status, map[string]any)) (artifact.ProjectCharter, bool) {
	if opts.StartStage == StartStageImplementer {
		// Requirements is skipped entirely when resuming at the
		// implementer stage; the architecture override stands in for it.
		return artifact.ProjectCharter{}, true
	}

	emit(StatusRequirements, nil)

	var charter artifact.ProjectCharter
	if opts.CharterOverride != nil {
		charter = *opts.CharterOverride
	} else {
		systemPrompt := "You are the requirements stage of a backend-code generation pipeline. Produce a ProjectCharter JSON object describing the entities, endpoints, and business rules implied by the user's request."
		if err := deps.LLM.GenerateStructured(ctx, systemPrompt, prompt, charterSchema, &charter); err != nil {
			fail(ctx, deps, runID, emit, fmt.Errorf("requirements stage: %w", err))
			return artifact.ProjectCharter{}, false
		}
	}

	if err := charter.Validate(); err != nil {
		fail(ctx, deps, runID, emit, fmt.Errorf("requirements stage: %w", err))
		return artifact.ProjectCharter{}, false
	}

	_ = persistArtifact(ctx, deps.Store, runID, artifact.StageRequirements, charter)
	emit(StatusRequirementsDone, map[string]any{"charter": charter})
	return charter, true
}

func architectureStage(ctx context.Context, runID string, charter artifact.ProjectCharter, opts Options, deps Deps, emit func(Status, map[string]any)) (artifact.SystemArchitecture, bool) {
	emit(StatusArchitecture, nil)

	var arch artifact.SystemArchitecture
	if opts.ArchitectureOverride != nil {
		arch = *opts.ArchitectureOverride
	} else {
		systemPrompt := "You are the architecture stage of a backend-code generation pipeline. Given a ProjectCharter, produce a SystemArchitecture JSON object: design_document, mermaid_diagram, components, data_model_summary, endpoint_summary."
		userPrompt := fmt.Sprintf("project_name: %s\ndescription: %s\nentities: %d\nendpoints: %d\n",
			charter.ProjectName, charter.Description, len(charter.Entities), len(charter.Endpoints))
		if err := deps.LLM.GenerateStructured(ctx, systemPrompt, userPrompt, architectureSchema, &arch); err != nil {
			fail(ctx, deps, runID, emit, fmt.Errorf("architecture stage: %w", err))
			return artifact.SystemArchitecture{}, false
		}
	}

	arch.MermaidDiagram = mermaid.Normalize(arch.MermaidDiagram)

	_ = persistArtifact(ctx, deps.Store, runID, artifact.StageArchitecture, arch)
	emit(StatusArchitectureDone, map[string]any{"architecture": arch})
	return arch, true
}

func implementerStage(ctx context.Context, runID string, arch artifact.SystemArchitecture, deps Deps, emit func(Status, map[string]any)) (artifact.GeneratedCode, bool) {
	emit(StatusImplementer, nil)

	code, err := deps.Implementer.Generate(ctx, arch)
	if err != nil {
		fail(ctx, deps, runID, emit, fmt.Errorf("implementer stage: %w", err))
		return artifact.GeneratedCode{}, false
	}

	_ = persistArtifact(ctx, deps.Store, runID, artifact.StageImplementer, code)
	emit(StatusImplementerDone, map[string]any{"file_count": len(code.Files)})
	return code, true
}

// reviewStage runs the bounded review loop. Exceptions inside it degrade
// gracefully rather than aborting the run: later stages always return
// what they have instead of failing the whole run.
func reviewStage(ctx context.Context, runID string, arch artifact.SystemArchitecture, code artifact.GeneratedCode, opts Options, deps Deps, emit func(Status, map[string]any)) (report artifact.ReviewReport, finalCode artifact.GeneratedCode) {
	finalCode = code
	defer func() {
		if r := recover(); r != nil {
			report = artifact.ReviewReport{Approved: false, SecurityScore: 0}
			emit(StatusReviewerDone, map[string]any{"error": fmt.Sprintf("reviewer stage panicked: %v", r)})
		}
	}()

	max := opts.maxReviewIterations()
	for i := 0; i < max; i++ {
		emit(StatusReviewer, map[string]any{"iteration": i + 1})

		merged, err := reviewOnce(ctx, deps.LLM, arch, finalCode)
		if err != nil {
			emit(StatusReviewerDone, map[string]any{"error": err.Error()})
			return merged, finalCode
		}
		report = merged

		if report.Approved && report.SecurityScore >= opts.minSecurityScore() {
			emit(StatusReviewPass, map[string]any{"iteration": i + 1, "security_score": report.SecurityScore})
			break
		}

		emit(StatusRevision, map[string]any{"iteration": i + 1, "issue_count": len(report.Issues)})

		if report.FinalCode != nil {
			finalCode = *report.FinalCode
			continue
		}

		patchRequests := effectivePatchRequests(report)
		if len(patchRequests) == 0 {
			break
		}

		patched, err := deps.Implementer.PatchFiles(ctx, arch, finalCode, patchRequests, issuesByFile(report))
		if err != nil {
			emit(StatusReviewerDone, map[string]any{"error": fmt.Sprintf("patch failed: %v", err)})
			return report, finalCode
		}
		finalCode = patched
	}

	_ = persistArtifact(ctx, deps.Store, runID, artifact.StageReview, report)
	emit(StatusReviewerDone, map[string]any{"approved": report.Approved, "security_score": report.SecurityScore})
	return report, finalCode
}

// reviewOnce calls the reviewer and the deterministic validator
// concurrently — neither depends on the other's output — and merges their
// findings: validator soundness forces approved=false and a capped
// security score whenever any failure is reported.
func reviewOnce(ctx context.Context, client llmagent.Client, arch artifact.SystemArchitecture, code artifact.GeneratedCode) (artifact.ReviewReport, error) {
	var report artifact.ReviewReport
	var validatorReport artifact.TestRunReport

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemPrompt := "You are the reviewer stage of a backend-code generation pipeline. Examine the generated bundle against the architecture and produce a ReviewReport JSON object: issues, suggestions, security_score (1-10), approved, affected_files, patch_requests, optional final_code."
		userPrompt := fmt.Sprintf("Design document:\n%s\n\nBundle (%d files):\n%s\n", arch.DesignDocument, len(code.Files), strings.Join(code.SortedPaths(), "\n"))
		if err := client.GenerateStructured(gctx, systemPrompt, artifact.TruncatePrompt(userPrompt), reviewSchema, &report); err != nil {
			return fmt.Errorf("reviewer call: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		validatorReport = validator.Run(&code)
		return nil
	})
	if err := g.Wait(); err != nil {
		return artifact.ReviewReport{}, err
	}

	if !validatorReport.Passed {
		report.Approved = false
		if report.SecurityScore > artifact.MaxSecurityScoreOnFailure {
			report.SecurityScore = artifact.MaxSecurityScoreOnFailure
		}
		for _, f := range validatorReport.Failures {
			report.Issues = append(report.Issues, artifact.Issue{
				Severity:    artifact.SeverityHigh,
				Description: f.Message,
				FilePath:    f.FilePath,
				LineNumber:  f.LineNumber,
			})
		}
		report.PatchRequests = append(report.PatchRequests, validatorReport.PatchRequests...)
	}
	return report, nil
}

func effectivePatchRequests(report artifact.ReviewReport) []artifact.FilePatchRequest {
	if len(report.PatchRequests) > 0 {
		return report.PatchRequests
	}
	out := make([]artifact.FilePatchRequest, 0, len(report.AffectedFiles))
	byFile := make(map[string][]string)
	for _, issue := range report.Issues {
		byFile[issue.FilePath] = append(byFile[issue.FilePath], issue.Description)
	}
	for _, f := range report.AffectedFiles {
		out = append(out, artifact.FilePatchRequest{Path: f, Reason: "reviewer flagged issues", Instructions: byFile[f]})
	}
	return out
}

func issuesByFile(report artifact.ReviewReport) map[string][]string {
	out := make(map[string][]string)
	for _, issue := range report.Issues {
		if issue.FilePath == "" {
			continue
		}
		out[issue.FilePath] = append(out[issue.FilePath], issue.Description)
	}
	return out
}

// repairStage runs the bounded sandbox repair loop when runtime_mode is
// sandbox; it is skipped entirely in local_cli mode. Like reviewStage, it
// degrades gracefully on panic.
func repairStage(ctx context.Context, runID, projectID string, arch artifact.SystemArchitecture, code artifact.GeneratedCode, reviewReport artifact.ReviewReport, opts Options, deps Deps, emit func(Status, map[string]any)) (report artifact.RepairReport, finalCode artifact.GeneratedCode) {
	finalCode = code
	if opts.RuntimeMode != RuntimeModeSandbox {
		return artifact.RepairReport{Passed: true, FinalCode: code, Summary: "sandbox repair skipped: runtime_mode=local_cli"}, code
	}

	defer func() {
		if r := recover(); r != nil {
			report = artifact.RepairReport{Passed: false, FinalCode: finalCode, Summary: fmt.Sprintf("repair stage panicked: %v", r)}
			emit(StatusRepairerDone, map[string]any{"error": report.Summary})
		}
	}()

	emit(StatusRepairer, nil)

	loop := repair.New(deps.Implementer, deps.Harness, deps.Timeouts)
	report = loop.Run(ctx, projectID, arch, code, issuesByFile(reviewReport))
	finalCode = report.FinalCode

	if report.Attempts > 0 {
		emit(StatusRepairRevision, map[string]any{"attempts": report.Attempts, "affected_files": report.AffectedFiles})
	}

	emit(StatusRepairerDone, map[string]any{"passed": report.Passed, "attempts": report.Attempts})
	return report, finalCode
}

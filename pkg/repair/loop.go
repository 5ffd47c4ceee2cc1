// Package repair implements the bounded runtime-validation and
// targeted-patching loop: static syntax/import checks from pkg/validator,
// a live sandbox smoke check via pkg/sandbox, and a capped sequence of
// implementer patch calls that escalate from per-failure fixes to
// aggregated patches of every file touched so far when targeted patching
// stalls.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/implementer"
	"github.com/tarsy-labs/forge/pkg/sandbox"
	"github.com/tarsy-labs/forge/pkg/validator"
)

// MaxTargetedIterations bounds the targeted-patch phase.
const MaxTargetedIterations = 3

// MaxEscalationIterations bounds the escalation phase.
const MaxEscalationIterations = 2

// fallbackPatchOrder lists conventional patch targets; only its first entry
// is used, as the target for a failure that carries no file of its own.
var fallbackPatchOrder = []string{"app/routes.py", "app/main.py", "app/schemas.py", "app/models.py"}

// Loop runs the bounded evaluate/patch cycle for one project's bundle.
type Loop struct {
	Implementer implementer.Implementer
	Harness     *sandbox.Harness
	Timeouts    config.TimeoutConfig
	breaker     *gobreaker.CircuitBreaker
}

// New builds a Loop. harness may be nil, in which case live sandbox checks
// are skipped and only static validation runs — used by callers (and
// tests) that don't have a container runtime available.
func New(impl implementer.Implementer, harness *sandbox.Harness, timeouts config.TimeoutConfig) *Loop {
	settings := gobreaker.Settings{
		Name:        "repair-sandbox",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
	}
	return &Loop{
		Implementer: impl,
		Harness:     harness,
		Timeouts:    timeouts,
		breaker:     gobreaker.NewCircuitBreaker(settings),
	}
}

// Run evaluates code for projectID, patching through the implementer up to
// the combined targeted+escalation budget until it passes or the budget is
// exhausted.
func (l *Loop) Run(ctx context.Context, projectID string, arch artifact.SystemArchitecture, code artifact.GeneratedCode, reviewerIssues map[string][]string) artifact.RepairReport {
	current := code
	attempts := 0
	touched := make(map[string]bool)

	report := l.evaluate(ctx, projectID, current)

	for i := 0; i < MaxTargetedIterations && !report.Passed; i++ {
		patchRequests := l.buildTargetedPatches(report)
		if len(patchRequests) == 0 {
			break
		}
		for _, p := range patchRequests {
			touched[p.Path] = true
		}

		patched, err := l.Implementer.PatchFiles(ctx, arch, current, patchRequests, mergeIssues(reviewerIssues, report))
		attempts++
		if err != nil {
			return l.finalReport(current, report, attempts, touched, false,
				fmt.Sprintf("targeted patch attempt %d failed: %v", attempts, err))
		}
		current = patched
		report = l.evaluate(ctx, projectID, current)
	}

	for i := 0; i < MaxEscalationIterations && !report.Passed; i++ {
		patchRequests := l.buildEscalationPatches(current, touched, report)
		if len(patchRequests) == 0 {
			break
		}
		for _, p := range patchRequests {
			touched[p.Path] = true
		}

		patched, err := l.Implementer.PatchFiles(ctx, arch, current, patchRequests, mergeIssues(reviewerIssues, report))
		attempts++
		if err != nil {
			return l.finalReport(current, report, attempts, touched, false,
				fmt.Sprintf("escalation patch attempt %d failed: %v", attempts, err))
		}
		current = patched
		report = l.evaluate(ctx, projectID, current)
	}

	return l.finalReport(current, report, attempts, touched, report.Passed, "")
}

func (l *Loop) finalReport(code artifact.GeneratedCode, last artifact.TestRunReport, attempts int, touched map[string]bool, passed bool, extraSummary string) artifact.RepairReport {
	files := make([]string, 0, len(touched))
	for f := range touched {
		files = append(files, f)
	}
	summary := summarize(last, attempts, passed)
	if extraSummary != "" {
		summary = extraSummary
	}
	return artifact.RepairReport{
		Passed:         passed,
		FullyValidated: passed && len(last.Warnings) == 0,
		Repaired:       attempts > 0 && passed,
		Attempts:       attempts,
		AffectedFiles:  files,
		Failures:       last.Failures,
		Warnings:       last.Warnings,
		FinalCode:      code,
		Summary:        summary,
	}
}

func summarize(report artifact.TestRunReport, attempts int, passed bool) string {
	if passed {
		if attempts == 0 {
			return "bundle passed validation without repair"
		}
		return fmt.Sprintf("bundle passed validation after %d repair attempt(s)", attempts)
	}
	return fmt.Sprintf("bundle still failing after %d repair attempt(s): %d unresolved failure(s)", attempts, len(report.Failures))
}

func mergeIssues(reviewerIssues map[string][]string, report artifact.TestRunReport) map[string][]string {
	out := make(map[string][]string, len(reviewerIssues))
	for k, v := range reviewerIssues {
		out[k] = append(out[k], v...)
	}
	for _, f := range report.Failures {
		if f.FilePath == "" {
			continue
		}
		out[f.FilePath] = append(out[f.FilePath], f.Message)
	}
	return out
}

// buildTargetedPatches prefers the evaluator's own patch requests; absent
// those, it synthesizes one per failing file. A failure with no file of its
// own goes to fallbackPatchOrder[0] (app/routes.py), whether or not the
// bundle contains that file; the later fallback paths are not tried.
func (l *Loop) buildTargetedPatches(report artifact.TestRunReport) []artifact.FilePatchRequest {
	if len(report.PatchRequests) > 0 {
		return report.PatchRequests
	}

	byFile := make(map[string][]string)
	var order []string
	for _, f := range report.Failures {
		path := f.FilePath
		if path == "" {
			path = fallbackPatchOrder[0]
		}
		if _, ok := byFile[path]; !ok {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], f.Message)
	}

	out := make([]artifact.FilePatchRequest, 0, len(order))
	for _, path := range order {
		out = append(out, artifact.FilePatchRequest{
			Path:         path,
			Reason:       "runtime smoke check failed",
			Instructions: byFile[path],
		})
	}
	return out
}

// buildEscalationPatches asks for one aggregated patch per file already
// touched in the targeted phase (or the top three bundle files if none
// were touched), instructing the implementer to resolve every remaining
// failure together.
func (l *Loop) buildEscalationPatches(code artifact.GeneratedCode, touched map[string]bool, report artifact.TestRunReport) []artifact.FilePatchRequest {
	var targets []string
	for path := range touched {
		targets = append(targets, path)
	}
	if len(targets) == 0 {
		for i, f := range code.Files {
			if i >= 3 {
				break
			}
			targets = append(targets, f.Path)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var allMessages []string
	for _, f := range report.Failures {
		allMessages = append(allMessages, f.Message)
	}
	instructions := append([]string{"Resolve all remaining validation failures together, not just the minimal fix."}, allMessages...)

	out := make([]artifact.FilePatchRequest, 0, len(targets))
	for _, t := range targets {
		out = append(out, artifact.FilePatchRequest{
			Path:         t,
			Reason:       "escalated repair pass: targeted patching did not converge",
			Instructions: instructions,
		})
	}
	return out
}

// evaluate runs the static validator and, when a live container runtime is
// available and the bundle carries app/main.py, a sandbox smoke check,
// merging their findings.
func (l *Loop) evaluate(ctx context.Context, projectID string, code artifact.GeneratedCode) artifact.TestRunReport {
	report := validator.Run(&code)
	if !report.Passed {
		return report
	}
	if l.Harness == nil || !hasMainModule(code) || projectID == "" {
		return report
	}

	sandboxReport, err := l.runSandboxCheck(ctx, projectID, code)
	if err != nil {
		return artifact.TestRunReport{
			Passed:    false,
			ChecksRun: append(report.ChecksRun, artifact.CheckEndpointSmoke),
			Failures: []artifact.TestFailure{{
				Check:     artifact.CheckEndpointSmoke,
				Message:   err.Error(),
				Patchable: true,
			}},
		}
	}
	sandboxReport.ChecksRun = append(report.ChecksRun, sandboxReport.ChecksRun...)
	return sandboxReport
}

func hasMainModule(code artifact.GeneratedCode) bool {
	_, ok := code.File("app/main.py")
	return ok
}

func (l *Loop) runSandboxCheck(ctx context.Context, projectID string, code artifact.GeneratedCode) (artifact.TestRunReport, error) {
	result, err := l.breaker.Execute(func() (any, error) {
		baseURL, _, err := l.Harness.Launch(ctx, projectID, code, l.Timeouts, false)
		if err != nil {
			return nil, err
		}

		spec, err := sandbox.FetchOpenAPI(ctx, baseURL, l.Timeouts.Endpoint)
		if err != nil {
			logs, _ := l.Harness.Logs(ctx, projectID, l.Timeouts.ContainerInspect)
			return artifact.TestRunReport{
				Passed: false,
				Failures: []artifact.TestFailure{{
					Check:     artifact.CheckEndpointSmoke,
					Message:   fmt.Sprintf("failed to fetch openapi.json: %v\ncontainer logs:\n%s", err, logs),
					Patchable: true,
				}},
			}, nil
		}

		if sandbox.IsFallbackApp(spec) {
			logs, _ := l.Harness.Logs(ctx, projectID, l.Timeouts.ContainerInspect)
			return artifact.TestRunReport{
				Passed: false,
				Failures: []artifact.TestFailure{{
					Check:     artifact.CheckEndpointSmoke,
					Message:   fmt.Sprintf("sandbox served a fallback app: generated routes failed to import\ncontainer logs:\n%s", logs),
					Patchable: true,
				}},
			}, nil
		}

		results := sandbox.ProbeEndpoints(ctx, baseURL, spec, 12, l.Timeouts.EndpointProbe)
		var failures []artifact.TestFailure
		for i, r := range results {
			if r.Err == nil && r.StatusCode < 500 {
				continue
			}
			msg := fmt.Sprintf("%s %s", r.Method, r.Path)
			if r.Err != nil {
				msg += fmt.Sprintf(": connection failure: %v", r.Err)
			} else {
				msg += fmt.Sprintf(": returned %d", r.StatusCode)
			}
			if i == 0 {
				logs, _ := l.Harness.Logs(ctx, projectID, l.Timeouts.ContainerInspect)
				msg += "\ncontainer logs:\n" + logs
			}
			failures = append(failures, artifact.TestFailure{
				Check:     artifact.CheckEndpointSmoke,
				Message:   msg,
				Patchable: true,
			})
		}
		if len(failures) > 0 {
			return artifact.TestRunReport{Passed: false, Failures: failures}, nil
		}

		if !l.Harness.IsLive(ctx, projectID, l.Timeouts.ContainerInspect) {
			return artifact.TestRunReport{
				Passed: false,
				Failures: []artifact.TestFailure{{
					Check:     artifact.CheckEndpointSmoke,
					Message:   "sandbox container exited after a successful probe pass",
					Patchable: true,
				}},
			}, nil
		}

		return artifact.TestRunReport{Passed: true}, nil
	})
	if err != nil {
		return artifact.TestRunReport{}, fmt.Errorf("repair: sandbox check unavailable: %w", err)
	}
	return result.(artifact.TestRunReport), nil
}

// Package implementer defines the code-generation collaborator's contract
// and a SafeImplementer wrapper that enforces the core's invariants on
// every PatchFiles result regardless of what the underlying collaborator
// returns.
package implementer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

// Implementer is the external code-generation collaborator. The core only
// ever calls these two operations.
type Implementer interface {
	Generate(ctx context.Context, arch artifact.SystemArchitecture) (artifact.GeneratedCode, error)
	PatchFiles(ctx context.Context, arch artifact.SystemArchitecture, current artifact.GeneratedCode, patchRequests []artifact.FilePatchRequest, issuesByFile map[string][]string) (artifact.GeneratedCode, error)
}

// SafeImplementer wraps an Implementer and enforces the core's invariants
// regardless of collaborator behavior: original file order is preserved
// for unpatched files, new files still live under app/, and dependencies
// never shrink below the baseline.
type SafeImplementer struct {
	Inner Implementer
}

// New wraps inner in invariant-enforcing behavior.
func New(inner Implementer) *SafeImplementer {
	return &SafeImplementer{Inner: inner}
}

// Generate delegates to the wrapped implementer and sanitizes paths and
// dependencies on the result.
func (s *SafeImplementer) Generate(ctx context.Context, arch artifact.SystemArchitecture) (artifact.GeneratedCode, error) {
	code, err := s.Inner.Generate(ctx, arch)
	if err != nil {
		return artifact.GeneratedCode{}, err
	}
	sanitizeInPlace(&code)
	code.EnsureBaselineDependencies()
	return code, nil
}

// PatchFiles delegates to the wrapped implementer, then restores file order
// for anything that wasn't patched, re-sanitizes paths, and guarantees the
// baseline dependencies survive.
func (s *SafeImplementer) PatchFiles(ctx context.Context, arch artifact.SystemArchitecture, current artifact.GeneratedCode, patchRequests []artifact.FilePatchRequest, issuesByFile map[string][]string) (artifact.GeneratedCode, error) {
	patched, err := s.Inner.PatchFiles(ctx, arch, current, patchRequests, issuesByFile)
	if err != nil {
		return artifact.GeneratedCode{}, err
	}
	sanitizeInPlace(&patched)

	touched := make(map[string]bool, len(patchRequests))
	for _, p := range patchRequests {
		touched[SanitizePath(p.Path)] = true
	}

	patchedByPath := make(map[string]artifact.CodeFile, len(patched.Files))
	for _, f := range patched.Files {
		patchedByPath[f.Path] = f
	}

	result := make([]artifact.CodeFile, 0, len(patched.Files))
	seen := make(map[string]bool, len(patched.Files))

	// Preserve original order for every file that wasn't a patch target,
	// pulling its (possibly still-identical) content from the patched set
	// if present, else its prior content.
	for _, orig := range current.Files {
		if touched[orig.Path] {
			continue
		}
		if f, ok := patchedByPath[orig.Path]; ok {
			result = append(result, f)
		} else {
			result = append(result, orig)
		}
		seen[orig.Path] = true
	}

	// Append patched/new files in the order the implementer returned them.
	for _, f := range patched.Files {
		if seen[f.Path] {
			continue
		}
		if !strings.HasPrefix(f.Path, "app/") {
			continue
		}
		result = append(result, f)
		seen[f.Path] = true
	}

	deps := mergeDependencies(current.Dependencies, patched.Dependencies)

	out := artifact.GeneratedCode{Files: result, Dependencies: deps}
	out.EnsureBaselineDependencies()
	return out, nil
}

func sanitizeInPlace(code *artifact.GeneratedCode) {
	for i := range code.Files {
		code.Files[i].Path = SanitizePath(code.Files[i].Path)
	}
}

// mergeDependencies unions the two dependency lists, preferring the
// patched set's order and never dropping anything the prior bundle had.
func mergeDependencies(prior, patched []string) []string {
	have := make(map[string]bool, len(prior)+len(patched))
	out := make([]string, 0, len(prior)+len(patched))
	for _, d := range patched {
		if !have[d] {
			have[d] = true
			out = append(out, d)
		}
	}
	for _, d := range prior {
		if !have[d] {
			have[d] = true
			out = append(out, d)
		}
	}
	return out
}

// SanitizePath normalizes a candidate file path the way the core requires
// before it ever touches disk: backslashes become forward slashes, leading
// slashes are dropped, ".." segments are removed, repeated slashes are
// collapsed, and any trailing slash is stripped. Idempotent.
func SanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "/") {
		p = p[1:]
	}
	segments := strings.Split(p, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == ".." || seg == "." {
			continue
		}
		cleaned = append(cleaned, seg)
	}
	return strings.Join(cleaned, "/")
}

// ErrEmptyGeneration is returned when a collaborator produces an empty
// bundle, which can never satisfy GeneratedCode.Validate.
var ErrEmptyGeneration = fmt.Errorf("implementer: generated bundle has no files")

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentProbes bounds how many endpoint probes run at once so a
// route-heavy bundle doesn't open dozens of simultaneous connections to a
// single sandbox container.
const maxConcurrentProbes = 8

// EndpointResult is a single best-effort HTTP probe outcome.
type EndpointResult struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

// WaitForSandbox polls /docs until any 2xx/3xx response or the deadline
// elapses.
func WaitForSandbox(ctx context.Context, baseURL string, deadline time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		resp, err := client.Get(baseURL + "/docs")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox: container not ready after %s: %w", deadline, ctx.Err())
		case <-ticker.C:
		}
	}
}

type openAPISpec struct {
	Paths map[string]map[string]any `json:"paths"`
}

// FetchOpenAPI retrieves /openapi.json from the running sandbox.
func FetchOpenAPI(ctx context.Context, baseURL string, timeout time.Duration) (*openAPISpec, error) {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/openapi.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var spec openAPISpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return nil, fmt.Errorf("sandbox: decoding openapi.json: %w", err)
	}
	return &spec, nil
}

// IsFallbackApp reports whether spec looks like FastAPI's auto-generated
// shell rather than the implementer's actual routes.
func IsFallbackApp(spec *openAPISpec) bool {
	if spec == nil || len(spec.Paths) == 0 {
		return true
	}
	for path := range spec.Paths {
		if path != "/" && path != "/health" && path != "/ready" {
			return false
		}
	}
	return true
}

var pathParam = regexp.MustCompile(`\{[^}]+\}`)

type probeTarget struct {
	method, path, resolved string
}

// ProbeEndpoints issues a best-effort GET against up to maxRoutes paths
// from spec, substituting path parameters with blanks. Probes run
// concurrently, bounded by maxConcurrentProbes, since a bundle can expose
// dozens of routes and probing them one at a time would dominate the
// endpoint_smoke stage's wall-clock time.
func ProbeEndpoints(ctx context.Context, baseURL string, spec *openAPISpec, maxRoutes int, perProbeTimeout time.Duration) []EndpointResult {
	client := &http.Client{Timeout: perProbeTimeout}

	var targets []probeTarget
	count := 0
	for path, methods := range spec.Paths {
		if count >= maxRoutes {
			break
		}
		resolved := pathParam.ReplaceAllString(path, "")
		resolved = strings.ReplaceAll(resolved, "//", "/")
		for method := range methods {
			if count >= maxRoutes {
				break
			}
			count++
			if !strings.EqualFold(method, http.MethodGet) {
				continue
			}
			targets = append(targets, probeTarget{method: method, path: path, resolved: resolved})
		}
	}

	results := make([]EndpointResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for i, tg := range targets {
		i, tg := i, tg
		g.Go(func() error {
			results[i] = probeOne(gctx, client, baseURL, tg)
			return nil
		})
	}
	_ = g.Wait() // probeOne never returns an error; failures are recorded in EndpointResult.Err

	return results
}

func probeOne(ctx context.Context, client *http.Client, baseURL string, tg probeTarget) EndpointResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+tg.resolved, nil)
	if err != nil {
		return EndpointResult{Method: tg.method, Path: tg.path, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return EndpointResult{Method: tg.method, Path: tg.path, Err: err}
	}
	defer resp.Body.Close()
	return EndpointResult{Method: tg.method, Path: tg.path, StatusCode: resp.StatusCode}
}

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/pkg/artifact"
)

// Harness is the per-run entry point to the sandbox lifecycle: materialize,
// launch, wait, probe, teardown.
type Harness struct {
	cfg    config.SandboxConfig
	docker *dockerCLI
}

// New builds a Harness from sandbox configuration.
func New(cfg config.SandboxConfig) *Harness {
	return &Harness{cfg: cfg, docker: newDockerCLI("docker")}
}

// PreflightImage does a cheap remote-manifest check that the configured
// image actually exists before paying for a container launch that would
// otherwise fail deep inside the Docker CLI with a less actionable error.
func (h *Harness) PreflightImage(ctx context.Context) error {
	_, err := crane.Manifest(h.cfg.Image, crane.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sandbox: image %q not resolvable: %w", h.cfg.Image, err)
	}
	return nil
}

// Launch materializes code, force-removes any prior container for
// projectID, and starts a fresh one. It returns the sandbox's base URL and
// its runtime metadata.
func (h *Harness) Launch(ctx context.Context, projectID string, code artifact.GeneratedCode, timeouts config.TimeoutConfig, rawMode bool) (string, *RuntimeMetadata, error) {
	if err := os.MkdirAll(h.cfg.HostRoot, 0o755); err != nil {
		return "", nil, err
	}

	hostDir, err := materialize(h.cfg.HostRoot, projectID, code, h.cfg.ContainerPort, rawMode)
	if err != nil {
		return "", nil, err
	}
	absHostDir, err := filepath.Abs(hostDir)
	if err != nil {
		return "", nil, err
	}

	containerName := containerNameFor(projectID)
	if err := h.docker.RemoveForce(ctx, timeouts.ContainerInspect, containerName); err != nil {
		return "", nil, err
	}

	prior, _ := readMetadata(h.cfg.HostRoot, projectID)
	priorPort := 0
	if prior != nil {
		priorPort = prior.HostPort
	}
	port, err := AllocatePort(h.cfg.HostRoot, projectID, h.cfg.PortRangeLow, h.cfg.PortRangeHigh, priorPort)
	if err != nil {
		return "", nil, err
	}

	containerID, err := h.docker.RunDetached(ctx, timeouts.ContainerInspect, containerName, h.cfg.Image,
		absHostDir, h.cfg.ContainerRoot, port, h.cfg.ContainerPort, "./container_entrypoint.sh")
	if err != nil {
		return "", nil, err
	}

	mode := "normalized"
	if rawMode {
		mode = "raw"
	}
	meta := RuntimeMetadata{
		ProjectID:     projectID,
		ContainerName: containerName,
		HostPort:      port,
		Mode:          mode,
		HostDir:       absHostDir,
		StartedAt:     time.Now(),
		ContainerID:   containerID,
	}
	if err := writeMetadata(h.cfg.HostRoot, meta); err != nil {
		return "", nil, err
	}

	baseURL := fmt.Sprintf("http://%s:%d", h.cfg.PublicHost, port)
	if err := WaitForSandbox(ctx, baseURL, timeouts.SandboxWait); err != nil {
		logs, _ := h.Logs(ctx, projectID, timeouts.ContainerInspect)
		return "", nil, fmt.Errorf("%w\ncontainer logs:\n%s", err, logs)
	}
	return baseURL, &meta, nil
}

// IsLive reports whether the project's container is still in the running
// state, used by the repair loop's post-success liveness re-check.
func (h *Harness) IsLive(ctx context.Context, projectID string, timeout time.Duration) bool {
	meta, ok := readMetadata(h.cfg.HostRoot, projectID)
	if !ok {
		return false
	}
	state, err := h.docker.InspectState(ctx, timeout, meta.ContainerName)
	if err != nil {
		return false
	}
	return state == "running"
}

// Logs concatenates the container's tail log with the bootstrap log file,
// bounded to a reasonable size.
func (h *Harness) Logs(ctx context.Context, projectID string, timeout time.Duration) (string, error) {
	meta, ok := readMetadata(h.cfg.HostRoot, projectID)
	if !ok {
		return "", fmt.Errorf("sandbox: no runtime metadata for project %s", projectID)
	}
	containerLogs, err := h.docker.Logs(ctx, timeout, meta.ContainerName, 200)
	if err != nil {
		containerLogs = fmt.Sprintf("(failed to fetch container logs: %v)", err)
	}
	bootstrapLog, _ := os.ReadFile(filepath.Join(meta.HostDir, "sandbox.log"))
	combined := containerLogs + "\n--- sandbox.log ---\n" + string(bootstrapLog)
	return truncateTail(combined, 8000), nil
}

// Teardown force-removes the project's container. Safe to call when no
// container exists.
func (h *Harness) Teardown(ctx context.Context, projectID string, timeout time.Duration) error {
	meta, ok := readMetadata(h.cfg.HostRoot, projectID)
	if !ok {
		return h.docker.RemoveForce(ctx, timeout, containerNameFor(projectID))
	}
	return h.docker.RemoveForce(ctx, timeout, meta.ContainerName)
}

func containerNameFor(projectID string) string {
	return "forge-sandbox-" + projectID
}

func truncateTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

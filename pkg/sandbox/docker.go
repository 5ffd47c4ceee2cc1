package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrRuntimeUnavailable wraps any error from the container CLI after the
// circuit breaker has tripped.
var ErrRuntimeUnavailable = fmt.Errorf("sandbox: container runtime unavailable")

// dockerCLI shells out to a Docker-compatible CLI binary, wrapping every
// call in a circuit breaker so a runtime that's genuinely down fails fast
// for the rest of a run instead of retrying every blocking call to its
// full timeout.
type dockerCLI struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

func newDockerCLI(bin string) *dockerCLI {
	if bin == "" {
		bin = "docker"
	}
	settings := gobreaker.Settings{
		Name:        "sandbox-docker-cli",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &dockerCLI{bin: bin, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (d *dockerCLI) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	out, err := d.breaker.Execute(func() (any, error) {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, d.bin, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, stderr.String())
		}
		return stdout.String(), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

// RemoveForce force-removes a container by name, swallowing "no such
// container" errors so this call is safe to run defensively before every
// launch.
func (d *dockerCLI) RemoveForce(ctx context.Context, timeout time.Duration, name string) error {
	_, err := d.run(ctx, timeout, "rm", "-f", name)
	if err != nil && strings.Contains(err.Error(), "No such container") {
		return nil
	}
	return err
}

// RunDetached starts a detached container and returns its container ID.
func (d *dockerCLI) RunDetached(ctx context.Context, timeout time.Duration, name, image, hostDir, containerDir string, hostPort, containerPort int, entrypoint string) (string, error) {
	args := []string{
		"run", "-d",
		"--name", name,
		"-v", fmt.Sprintf("%s:%s", hostDir, containerDir),
		"-p", fmt.Sprintf("%d:%d", hostPort, containerPort),
		"--workdir", containerDir,
		"--entrypoint", entrypoint,
		image,
	}
	out, err := d.run(ctx, timeout, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// InspectState returns the container's Running state string (docker
// inspect -f {{.State.Status}}).
func (d *dockerCLI) InspectState(ctx context.Context, timeout time.Duration, nameOrID string) (string, error) {
	out, err := d.run(ctx, timeout, "inspect", "-f", "{{.State.Status}}", nameOrID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Logs returns the last tailLines lines of container logs.
func (d *dockerCLI) Logs(ctx context.Context, timeout time.Duration, nameOrID string, tailLines int) (string, error) {
	out, err := d.run(ctx, timeout, "logs", "--tail", fmt.Sprintf("%d", tailLines), nameOrID)
	if err != nil {
		return "", err
	}
	return out, nil
}

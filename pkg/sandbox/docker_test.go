package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDockerBinary writes a tiny shell script standing in for the docker
// CLI, dispatching on its first argument the way the real CLI's
// subcommands do, so dockerCLI's argument plumbing can be exercised
// without a real container runtime.
func fakeDockerBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestDockerCLIRunDetachedReturnsContainerID(t *testing.T) {
	bin := fakeDockerBinary(t, `echo deadbeef1234`)
	cli := newDockerCLI(bin)

	id, err := cli.RunDetached(context.Background(), time.Second, "forge-sandbox-x", "python:3.12-slim", "/host", "/app", 18000, 9000, "./container_entrypoint.sh")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef1234", id)
}

func TestDockerCLIRemoveForceSwallowsNoSuchContainer(t *testing.T) {
	bin := fakeDockerBinary(t, `echo "Error: No such container: forge-sandbox-x" 1>&2; exit 1`)
	cli := newDockerCLI(bin)

	err := cli.RemoveForce(context.Background(), time.Second, "forge-sandbox-x")
	assert.NoError(t, err)
}

func TestDockerCLIRemoveForcePropagatesOtherErrors(t *testing.T) {
	bin := fakeDockerBinary(t, `echo "permission denied" 1>&2; exit 1`)
	cli := newDockerCLI(bin)

	err := cli.RemoveForce(context.Background(), time.Second, "forge-sandbox-x")
	assert.Error(t, err)
}

func TestDockerCLIInspectStateReturnsTrimmedStatus(t *testing.T) {
	bin := fakeDockerBinary(t, `echo "  running  "`)
	cli := newDockerCLI(bin)

	state, err := cli.InspectState(context.Background(), time.Second, "forge-sandbox-x")
	require.NoError(t, err)
	assert.Equal(t, "running", state)
}

func TestDockerCLILogsReturnsOutput(t *testing.T) {
	bin := fakeDockerBinary(t, `echo "line one"; echo "line two"`)
	cli := newDockerCLI(bin)

	out, err := cli.Logs(context.Background(), time.Second, "forge-sandbox-x", 50)
	require.NoError(t, err)
	assert.Contains(t, out, "line one")
	assert.Contains(t, out, "line two")
}

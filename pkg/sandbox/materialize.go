package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/normalizer"
)

const entrypointScript = `#!/bin/sh
set -e
pip install --no-cache-dir -r requirements.txt >>sandbox.log 2>&1
exec uvicorn %s --host 0.0.0.0 --port %d >>sandbox.log 2>&1
`

// materialize writes a normalized copy of code to hostRoot/projectID,
// along with requirements.txt, .env, and the container entrypoint script.
// skipNormalize corresponds to the harness running in "raw" mode, writing
// the bundle as generated without the normalization pass.
func materialize(hostRoot, projectID string, code artifact.GeneratedCode, containerPort int, skipNormalize bool) (string, error) {
	dir := filepath.Join(hostRoot, projectID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("sandbox: clearing host dir: %w", err)
	}

	files := code.Files
	if !skipNormalize {
		normalized, err := normalizer.Apply(code)
		if err != nil {
			return "", fmt.Errorf("sandbox: normalizing bundle: %w", err)
		}
		files = normalized.Files
	}

	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return "", err
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(strings.Join(code.Dependencies, "\n")+"\n"), 0o644); err != nil {
		return "", err
	}

	secret, err := randomHex(32)
	if err != nil {
		return "", err
	}
	dbSuffix, err := randomHex(8)
	if err != nil {
		return "", err
	}
	env := fmt.Sprintf("DATABASE_URL=sqlite:///./sandbox_%s.db\nSECRET_KEY=%s\n", dbSuffix, secret)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		return "", err
	}

	module := detectASGIModule(files)
	script := fmt.Sprintf(entrypointScript, module, containerPort)
	if err := os.WriteFile(filepath.Join(dir, "container_entrypoint.sh"), []byte(script), 0o755); err != nil {
		return "", err
	}

	return dir, nil
}

// detectASGIModule picks the uvicorn target: app/main:app, else main:app,
// else the first file instantiating FastAPI().
func detectASGIModule(files []artifact.CodeFile) string {
	for _, f := range files {
		if f.Path == "app/main.py" {
			return "app.main:app"
		}
	}
	for _, f := range files {
		if f.Path == "main.py" {
			return "main:app"
		}
	}
	for _, f := range files {
		if strings.Contains(f.Content, "FastAPI(") {
			module := strings.TrimSuffix(f.Path, ".py")
			module = strings.ReplaceAll(module, "/", ".")
			return module + ":app"
		}
	}
	return "app.main:app"
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package implementer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"backslashes become forward", `app\models\todo.py`, "app/models/todo.py"},
		{"leading slash dropped", "/app/main.py", "app/main.py"},
		{"dot-dot segments removed", "app/../../etc/passwd", "app/etc/passwd"},
		{"repeated slashes collapsed", "app//models//todo.py", "app/models/todo.py"},
		{"trailing slash stripped", "app/models/", "app/models"},
		{"already clean", "app/main.py", "app/main.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, SanitizePath(got), "SanitizePath must be idempotent")
		})
	}
}

type stubImplementer struct {
	generateFn   func() (artifact.GeneratedCode, error)
	patchFilesFn func() (artifact.GeneratedCode, error)
}

func (s *stubImplementer) Generate(context.Context, artifact.SystemArchitecture) (artifact.GeneratedCode, error) {
	return s.generateFn()
}

func (s *stubImplementer) PatchFiles(context.Context, artifact.SystemArchitecture, artifact.GeneratedCode, []artifact.FilePatchRequest, map[string][]string) (artifact.GeneratedCode, error) {
	return s.patchFilesFn()
}

func TestSafeImplementerPreservesOrderForUnpatchedFiles(t *testing.T) {
	current := artifact.GeneratedCode{
		Files: []artifact.CodeFile{
			{Path: "app/main.py", Content: "old main"},
			{Path: "app/database.py", Content: "old database"},
			{Path: "app/models/todo.py", Content: "old todo"},
		},
		Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
	}

	stub := &stubImplementer{
		patchFilesFn: func() (artifact.GeneratedCode, error) {
			return artifact.GeneratedCode{
				Files: []artifact.CodeFile{
					{Path: "app/models/todo.py", Content: "new todo"},
					{Path: "app/database.py", Content: "old database"},
					{Path: "app/main.py", Content: "old main"},
				},
				Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
			}, nil
		},
	}

	safe := New(stub)
	patched, err := safe.PatchFiles(context.Background(), artifact.SystemArchitecture{}, current,
		[]artifact.FilePatchRequest{{Path: "app/models/todo.py", Instructions: []string{"fix it"}}}, nil)
	require.NoError(t, err)

	require.Len(t, patched.Files, 3)
	assert.Equal(t, "app/main.py", patched.Files[0].Path)
	assert.Equal(t, "app/database.py", patched.Files[1].Path)
	assert.Equal(t, "app/models/todo.py", patched.Files[2].Path)
	assert.Equal(t, "new todo", patched.Files[2].Content)
}

func TestSafeImplementerRejectsNewFilesOutsideApp(t *testing.T) {
	current := artifact.GeneratedCode{
		Files:        []artifact.CodeFile{{Path: "app/main.py", Content: "main"}},
		Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
	}
	stub := &stubImplementer{
		patchFilesFn: func() (artifact.GeneratedCode, error) {
			return artifact.GeneratedCode{
				Files: []artifact.CodeFile{
					{Path: "app/main.py", Content: "main"},
					{Path: "scripts/evil.py", Content: "outside app/"},
				},
				Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
			}, nil
		},
	}

	safe := New(stub)
	patched, err := safe.PatchFiles(context.Background(), artifact.SystemArchitecture{}, current, nil, nil)
	require.NoError(t, err)
	for _, f := range patched.Files {
		assert.True(t, f.Path == "app/main.py")
	}
}

func TestSafeImplementerNeverShrinksDependencies(t *testing.T) {
	current := artifact.GeneratedCode{
		Files:        []artifact.CodeFile{{Path: "app/main.py", Content: "main"}},
		Dependencies: []string{"fastapi", "sqlmodel", "uvicorn", "email-validator"},
	}
	stub := &stubImplementer{
		patchFilesFn: func() (artifact.GeneratedCode, error) {
			return artifact.GeneratedCode{
				Files:        []artifact.CodeFile{{Path: "app/main.py", Content: "main2"}},
				Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
			}, nil
		},
	}

	safe := New(stub)
	patched, err := safe.PatchFiles(context.Background(), artifact.SystemArchitecture{}, current,
		[]artifact.FilePatchRequest{{Path: "app/main.py", Instructions: []string{"x"}}}, nil)
	require.NoError(t, err)
	assert.Contains(t, patched.Dependencies, "email-validator")
}

func TestSafeImplementerGenerateSanitizesPaths(t *testing.T) {
	stub := &stubImplementer{
		generateFn: func() (artifact.GeneratedCode, error) {
			return artifact.GeneratedCode{
				Files:        []artifact.CodeFile{{Path: `app\main.py`, Content: "main"}},
				Dependencies: []string{"fastapi", "sqlmodel", "uvicorn"},
			}, nil
		},
	}
	safe := New(stub)
	out, err := safe.Generate(context.Background(), artifact.SystemArchitecture{})
	require.NoError(t, err)
	assert.Equal(t, "app/main.py", out.Files[0].Path)
}

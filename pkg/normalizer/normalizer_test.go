package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

func TestApplyRewritesPatternToRegex(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field, SQLModel


class Todo(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True)
    title: str = Field(pattern="^[a-z]+$")
`,
		}},
	}

	out, err := Apply(code)
	require.NoError(t, err)
	assert.Contains(t, out.Files[0].Content, `regex="^[a-z]+$"`)
	assert.NotContains(t, out.Files[0].Content, "pattern=")
}

func TestApplyDropsNullableWithSAColumn(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field


class Todo:
    title: str = Field(sa_column=Column(String), nullable=False)
`,
		}},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	assert.NotContains(t, out.Files[0].Content, "nullable=")
	assert.Contains(t, out.Files[0].Content, "sa_column=Column(String)")
}

func TestApplyRemovesRedundantExplicitIndex(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field, Index


class Todo:
    due_date: str = Field(default=None, index=True, name="due_date")


Index("ix_todo_due_date", "due_date")
`,
		}},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	assert.NotContains(t, out.Files[0].Content, "index=True")
}

func TestApplyDedupesCreateAll(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{
			{Path: "app/database.py", Content: "SQLModel.metadata.create_all(engine)\n"},
			{Path: "app/main.py", Content: "from app.database import engine\nSQLModel.metadata.create_all(engine)\napp = FastAPI()\n"},
		},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	var main artifact.CodeFile
	for _, f := range out.Files {
		if f.Path == "app/main.py" {
			main = f
		}
	}
	assert.NotContains(t, main.Content, "metadata.create_all")
}

func TestApplyDedupesRouterPrefix(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{
			{Path: "app/routers/todos.py", Content: `router = APIRouter(prefix="/todos")` + "\n"},
			{Path: "app/main.py", Content: `app.include_router(router, prefix="/todos")` + "\n"},
		},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	var main artifact.CodeFile
	for _, f := range out.Files {
		if f.Path == "app/main.py" {
			main = f
		}
	}
	assert.NotContains(t, main.Content, `prefix="/todos"`)
	assert.Contains(t, main.Content, "app.include_router(router)")
}

func TestApplyEnsuresExceptionsModule(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{Path: "app/main.py", Content: "app = FastAPI()\n"}},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	found := false
	for _, f := range out.Files {
		if f.Path == "app/exceptions.py" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestApplyMovesPrimaryKeyFlagIntoColumn(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field


class Todo:
    id: int = Field(primary_key=True, sa_column=Column(Integer))
`,
		}},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	assert.NotContains(t, out.Files[0].Content, "Field(primary_key=True")
	assert.Contains(t, out.Files[0].Content, "Column(Integer, primary_key=True)")
}

func TestApplyMovesForeignKeyFlagIntoColumnAndAddsImport(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field


class Todo:
    owner_id: int = Field(foreign_key="user.id", sa_column=Column(Integer))
`,
		}},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	content := out.Files[0].Content
	assert.NotContains(t, content, `foreign_key="user.id"`)
	assert.Contains(t, content, `Column(Integer, ForeignKey("user.id"))`)
	assert.Contains(t, content, "from sqlalchemy import ForeignKey")
}

func TestApplySynthesizesPasswordHashShim(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{
			{Path: "app/security.py", Content: "def hash_password(raw: str) -> str:\n    return raw\n"},
			{Path: "app/routers/users.py", Content: "from app.security import get_password_hash\n"},
		},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	var security artifact.CodeFile
	for _, f := range out.Files {
		if f.Path == "app/security.py" {
			security = f
		}
	}
	assert.Contains(t, security.Content, "get_password_hash = hash_password")
}

func TestApplySynthesizesAPIRouterShimFromRouterList(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{
			{Path: "app/routers/__init__.py", Content: "router_list = []\n"},
			{Path: "app/main.py", Content: "from app.routers import api_router\n"},
		},
	}
	out, err := Apply(code)
	require.NoError(t, err)
	var routers artifact.CodeFile
	for _, f := range out.Files {
		if f.Path == "app/routers/__init__.py" {
			routers = f
		}
	}
	assert.Contains(t, routers.Content, "api_router = APIRouter()")
	assert.Contains(t, routers.Content, "from fastapi import APIRouter")
}

func TestApplyIsIdempotent(t *testing.T) {
	code := artifact.GeneratedCode{
		Files: []artifact.CodeFile{{
			Path: "app/models/todo.py",
			Content: `from sqlmodel import Field, Index


class Todo:
    due_date: str = Field(default=None, index=True, name="due_date")
    title: str = Field(pattern="^[a-z]+$")


Index("ix_todo_due_date", "due_date")
`,
		}},
	}
	once, err := Apply(code)
	require.NoError(t, err)
	twice, err := Apply(once)
	require.NoError(t, err)
	assert.Equal(t, once.Files[0].Content, twice.Files[0].Content)
}

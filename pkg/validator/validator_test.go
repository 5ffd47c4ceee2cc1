package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

func bundle(files map[string]string, deps ...string) *artifact.GeneratedCode {
	g := &artifact.GeneratedCode{Dependencies: deps}
	for path, content := range files {
		g.Files = append(g.Files, artifact.CodeFile{Path: path, Content: content})
	}
	return g
}

func TestRunPassesCleanBundle(t *testing.T) {
	code := bundle(map[string]string{
		"app/database.py": `from sqlmodel import create_engine

engine = create_engine("sqlite:///app.db")


def get_session():
    pass
`,
		"app/models/todo.py": `from sqlmodel import Field, SQLModel


class Todo(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True)
    title: str
`,
		"app/routers/todos.py": `from fastapi import APIRouter
from app.database import get_session

router = APIRouter(prefix="/todos", tags=["todos"])


def list_todos(*, db):
    pass
`,
		"app/main.py": `from fastapi import FastAPI
from app.routers.todos import router

app = FastAPI()
app.include_router(router)
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	assert.True(t, report.Passed, "%+v", report.Failures)
	assert.Empty(t, report.PatchRequests)
}

func TestRunFlagsUnresolvedModuleAttribute(t *testing.T) {
	code := bundle(map[string]string{
		"app/database.py": `def get_session():
    pass
`,
		"app/routers/todos.py": `from app import database


def list_todos():
    return database.get_connection()
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "get_connection")
	require.Len(t, report.PatchRequests, 1)
	assert.Equal(t, "app/routers/todos.py", report.PatchRequests[0].Path)
}

func TestRunFlagsUnknownKeywordArgument(t *testing.T) {
	code := bundle(map[string]string{
		"app/routers/todos.py": `def list_todos(*, db):
    pass


list_todos(db=None, limit=10)
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.Message == `list_todos() called with unknown keyword argument "limit"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunAllowsKwargsFunction(t *testing.T) {
	code := bundle(map[string]string{
		"app/routers/todos.py": `def list_todos(*, db, **kwargs):
    pass


list_todos(db=None, limit=10)
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	assert.True(t, report.Passed, "%+v", report.Failures)
}

func TestRunFlagsScalarOneChain(t *testing.T) {
	code := bundle(map[string]string{
		"app/routers/todos.py": `def get_count(session):
    return session.exec(select(func.count())).scalar_one()


def other(session):
    return session.exec(select(Todo)).one()[0]
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	assert.Len(t, report.Failures, 2)
	assert.Contains(t, report.Failures[0].Message, "scalar_one")
}

func TestRunFlagsMissingPrimaryKey(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/todo.py": `from sqlmodel import Field, SQLModel


class Todo(SQLModel, table=True):
    title: str = Field(default="")
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "primary_key")
}

func TestRunFlagsFieldPatternKeyword(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/todo.py": `from sqlmodel import Field, SQLModel


class Todo(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True)
    title: str = Field(pattern="^[a-z]+$")
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.Message == "Field(pattern=\"^[a-z]+$\") is invalid; use regex=" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFlagsSAColumnCoexistence(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/todo.py": `from sqlmodel import Field, SQLModel


class Todo(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True, sa_column=Column(Integer))
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.Message == "Field(sa_column=..., primary_key=...) cannot coexist" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFlagsDuplicateIncludeRouterPrefix(t *testing.T) {
	code := bundle(map[string]string{
		"app/routers/todos.py": `router = APIRouter(prefix="/todos")
`,
		"app/main.py": `from app.routers.todos import router

app.include_router(router, prefix="/todos")
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.FilePath == "app/main.py" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFlagsEmailStrWithoutDependency(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/user.py": `from pydantic import EmailStr


class User:
    email: EmailStr
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.Message == "EmailStr is used but neither email-validator nor pydantic[email] is declared in dependencies" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunAllowsEmailStrWithDependency(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/user.py": `from pydantic import EmailStr


class User:
    email: EmailStr
`,
	}, "fastapi", "sqlmodel", "uvicorn", "email-validator")

	report := Run(code)
	assert.True(t, report.Passed, "%+v", report.Failures)
}

func TestRunFlagsDuplicateBootstrap(t *testing.T) {
	code := bundle(map[string]string{
		"app/database.py": `SQLModel.metadata.create_all(engine)
`,
		"app/main.py": `SQLModel.metadata.create_all(engine)
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	found := false
	for _, f := range report.Failures {
		if f.FilePath == "app/main.py" && f.Message != "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFlagsNameTypeCollision(t *testing.T) {
	code := bundle(map[string]string{
		"app/models/todo.py": `from datetime import date


class Todo:
    date: date = Field(default=None)
`,
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "textually references its own name")
}

func TestRunRecordsSyntaxFailureForUnparsableFile(t *testing.T) {
	code := bundle(map[string]string{
		"app/broken.py": "def f(:\n    pass\n",
	}, "fastapi", "sqlmodel", "uvicorn")

	report := Run(code)
	require.False(t, report.Passed)
	assert.Equal(t, artifact.CheckSyntax, report.Failures[0].Check)
}

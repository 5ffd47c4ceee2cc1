package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/tarsy-labs/forge/pkg/artifact"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Postgres is a sqlx/pgx-backed Store. Runs and artifacts live in normalized
// tables; code bundles are offloaded to a BlobStore so large generated
// programs never bloat a row.
type Postgres struct {
	db    *sqlx.DB
	blobs *BlobStore
}

// PostgresConfig configures the pool and migration behavior.
type PostgresConfig struct {
	DSN             string
	BlobRoot        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects, applies pending goose migrations, and returns a
// ready Postgres store.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	blobs, err := NewBlobStore(cfg.BlobRoot)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, blobs: blobs}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// CreateRun implements pipeline.Store.
func (p *Postgres) CreateRun(ctx context.Context, run artifact.RunRecord) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, project_id, status, prompt, created_at) VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.ProjectID, string(run.Status), run.Prompt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create run: %w", err)
	}
	return nil
}

// UpdateRunStatus implements pipeline.Store.
func (p *Postgres) UpdateRunStatus(ctx context.Context, runID string, status artifact.RunStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status = $1 WHERE run_id = $2`, string(status), runID)
	if err != nil {
		return fmt.Errorf("postgres store: update run status: %w", err)
	}
	return requireRowsAffected(res, "run", runID)
}

// CreateArtifactRecord implements pipeline.Store.
func (p *Postgres) CreateArtifactRecord(ctx context.Context, runID string, record artifact.ArtifactRecord) error {
	content, err := json.Marshal(record.Content)
	if err != nil {
		return fmt.Errorf("postgres store: marshal artifact content: %w", err)
	}
	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, stage, content, created_at) VALUES ($1, $2, $3, $4)`,
		runID, string(record.Stage), content, timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create artifact record: %w", err)
	}
	return nil
}

// StoreCodeBundle implements pipeline.Store.
func (p *Postgres) StoreCodeBundle(ctx context.Context, runID string, stage artifact.StageTag, code artifact.GeneratedCode) (string, error) {
	handle, err := p.blobs.Put(code)
	if err != nil {
		return "", err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO code_bundles (handle, run_id, stage) VALUES ($1, $2, $3) ON CONFLICT (handle) DO NOTHING`,
		handle, runID, string(stage),
	)
	if err != nil {
		return "", fmt.Errorf("postgres store: index code bundle: %w", err)
	}
	return handle, nil
}

// LoadCodeBundle implements pipeline.Store.
func (p *Postgres) LoadCodeBundle(ctx context.Context, handle string) (artifact.GeneratedCode, error) {
	return p.blobs.Get(handle)
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("postgres store: unknown %s %q", kind, id)
	}
	return nil
}

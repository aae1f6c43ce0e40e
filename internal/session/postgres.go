package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultPostgresTable = "authcode_session"

// PostgresConfig captures configuration required to initialize a Postgres-backed scope.
type PostgresConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresBackend stores values in a (scope, key) keyed table.
type PostgresBackend struct {
	db    *sql.DB
	cfg   PostgresConfig
	scope Scope
}

// NewPostgresBackend connects to PostgreSQL and ensures the schema exists.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig, scope Scope) (*PostgresBackend, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres session: DSN is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultPostgresTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres session: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres session: ping database: %w", err)
	}

	backend := &PostgresBackend{db: db, cfg: cfg, scope: scope}
	if err = backend.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// EnsureSchema creates the table (and schema when provided).
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if schema := strings.TrimSpace(p.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres session: create schema: %w", err)
		}
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (scope, key)
		)
	`, p.fullTableName())); err != nil {
		return fmt.Errorf("postgres session: create table: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE scope = $1 AND key = $2", p.fullTableName())
	var value string
	err := p.db.QueryRowContext(ctx, query, string(p.scope), key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("postgres session: get %s: %w", key, err)
	}
	return value, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, p.fullTableName())
	if _, err := p.db.ExecContext(ctx, query, string(p.scope), key, value); err != nil {
		return fmt.Errorf("postgres session: upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE scope = $1 AND key = ANY($2)", p.fullTableName())
	if _, err := p.db.ExecContext(ctx, query, string(p.scope), keys); err != nil {
		return fmt.Errorf("postgres session: delete: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (p *PostgresBackend) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresBackend) fullTableName() string {
	if strings.TrimSpace(p.cfg.Schema) == "" {
		return quoteIdentifier(p.cfg.Table)
	}
	return quoteIdentifier(p.cfg.Schema) + "." + quoteIdentifier(p.cfg.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}

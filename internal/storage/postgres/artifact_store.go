// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArtifactStoreConfig controls the Postgres connection pool used for
// artifact rows.
type ArtifactStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArtifactStore writes artifact rows into Postgres.
type ArtifactStore struct {
	pool  execCloser
	table string
}

// NewArtifactStore creates a Postgres-backed ArtifactStore using the
// provided config.
func NewArtifactStore(ctx context.Context, cfg ArtifactStoreConfig) (*ArtifactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "artifacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArtifactStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewArtifactStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewArtifactStoreWithPool(pool execCloser, table string) (*ArtifactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "artifacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArtifactStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordArtifact inserts an artifact row into Postgres.
func (s *ArtifactStore) RecordArtifact(ctx context.Context, artifact capture.ArtifactRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact store is not configured")
	}
	if artifact.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(artifact.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	job_id,
	url,
	kind,
	content_hash,
	blob_uri,
	headers,
	status_code,
	content_type,
	duration_ms,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		artifact.ID,
		artifact.JobID,
		artifact.URL,
		string(artifact.Kind),
		artifact.ContentHash,
		artifact.BlobURI,
		headersJSON,
		artifact.StatusCode,
		artifact.ContentType,
		artifact.DurationMs,
		artifact.CapturedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}

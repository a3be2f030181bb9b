package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

const schema = `
CREATE TABLE IF NOT EXISTS benchmark_metrics (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    timestamp     TEXT NOT NULL,
    provider_name TEXT NOT NULL,
    model_name    TEXT NOT NULL,
    model_key     TEXT NOT NULL,
    prompt        TEXT NOT NULL,
    metrics       TEXT NOT NULL,
    streaming     BOOLEAN NOT NULL
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_benchmark_metrics_timestamp ON benchmark_metrics (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_benchmark_metrics_run_id ON benchmark_metrics (run_id)`,
}

// SQLStore keeps records in sqlite or postgres through database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (creating if needed) the sqlite database at path
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, dialect: dialectSQLite}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore connects to postgres with the pgx driver
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Put(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO benchmark_metrics (
    id, run_id, timestamp, provider_name, model_name, model_key, prompt, metrics, streaming
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.RunID, r.Timestamp, r.ProviderName, r.ModelName, r.ModelKey, r.Prompt, r.Metrics, r.Streaming,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("put record %q: %w", r.ID, ErrDuplicateRecord)
		}
		return fmt.Errorf("put record %q: %w", r.ID, err)
	}
	return nil
}

func (s *SQLStore) Scan(ctx context.Context, f Filter) ([]Record, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Streaming != nil {
		clauses = append(clauses, "streaming = ?")
		args = append(args, *f.Streaming)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since.Format(TimestampLayout))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, f.Until.Format(TimestampLayout))
	}

	query := `SELECT id, run_id, timestamp, provider_name, model_name, model_key, prompt, metrics, streaming FROM benchmark_metrics`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RunID, &r.Timestamp, &r.ProviderName, &r.ModelName, &r.ModelKey, &r.Prompt, &r.Metrics, &r.Streaming); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed") || strings.Contains(value, "constraint failed: unique")
}

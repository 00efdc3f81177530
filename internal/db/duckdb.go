// Package db wraps the DuckDB store used to stage datasets for ad-hoc
// queries and to serve staged tables back to map sessions.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// ErrTableNotFound is returned by Fetch for a table that was never staged.
var ErrTableNotFound = errors.New("table not found")

// Config holds database configuration.
type Config struct {
	// DataDir holds duckdb/<DBName>.duckdb. Empty opens an in-memory store.
	DataDir string
	DBName  string
	// NoExtensions skips installing the spatial and parquet extensions.
	NoExtensions bool
}

// Store is a DuckDB connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the DuckDB database.
func Open(cfg Config) (*Store, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		dsn = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	if !cfg.NoExtensions {
		for _, ext := range []string{"spatial", "parquet"} {
			// already installed, or offline: staging of that format fails later
			_, _ = conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext))
		}
	}
	return &Store{db: conn}, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name is usable as an unquoted table name.
func ValidTable(name string) bool {
	return identRe.MatchString(name)
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// readerFor picks the DuckDB table function for a file. GeoJSON goes
// through the spatial extension and its geometry is re-emitted as a
// GeoJSON string in the_geom.
func readerFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "SELECT * FROM read_json_auto(" + literal(path) + ")", nil
	case ".csv":
		return "SELECT * FROM read_csv_auto(" + literal(path) + ")", nil
	case ".parquet":
		return "SELECT * FROM read_parquet(" + literal(path) + ")", nil
	case ".geojson":
		return "SELECT * EXCLUDE (geom), ST_AsGeoJSON(geom) AS the_geom FROM ST_Read(" + literal(path) + ")", nil
	}
	return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// Stage imports a file into table, replacing any previous contents, and
// returns the row count.
func (s *Store) Stage(ctx context.Context, table, path string) (int64, error) {
	if !ValidTable(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	sel, err := readerFor(path)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", table, sel)); err != nil {
		return 0, fmt.Errorf("stage %s: %w", table, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Tables lists the staged tables.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Result is a generic query result.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Query runs an arbitrary query and collects every row.
func (s *Store) Query(ctx context.Context, query string, args ...any) (Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

// Source implements dataset.Fetcher.
func (s *Store) Source() string { return "duckdb" }

// Fetch implements dataset.Fetcher: it serialises a staged table as a JSON
// array of records.
func (s *Store) Fetch(ctx context.Context, name string) ([]byte, error) {
	if !ValidTable(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) > 0 FROM information_schema.tables WHERE table_name = ?", name).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT CAST(to_json(t) AS VARCHAR) FROM %s AS t", name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteByte('[')
	first := true
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

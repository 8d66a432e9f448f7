// Package store provides database access for mailsift.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store provides database operations for mailsift.
type Store struct {
	db           *sql.DB
	dbPath       string
	dimension    int
	vecAvailable bool // Whether the vec0 module is available for vector search
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// registerVecOnce installs sqlite-vec as an auto extension for all
// subsequently opened connections. Registering twice would panic inside
// the bindings, so it is guarded globally.
var registerVecOnce sync.Once

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// This is more robust than strings.Contains on err.Error() because it first
// type-asserts to the specific driver error type using errors.As.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the database at the given path. The dimension is the
// width of stored embedding vectors and fixes the shape of the vec_emails
// virtual table on first initialization.
func Open(dbPath string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	registerVecOnce.Do(sqlite_vec.Auto)

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:        db,
		dbPath:    dbPath,
		dimension: dimension,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dimension returns the embedding width the store was opened with.
func (s *Store) Dimension() int {
	return s.dimension
}

// VecAvailable reports whether the vec0 module loaded and vector search
// is usable. When false, upserts still succeed but skip the vector rows.
func (s *Store) VecAvailable() bool {
	return s.vecAvailable
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryInChunks executes a parameterized IN-query in chunks to stay within
// SQLite's parameter limit. queryTemplate must contain a single %s placeholder
// for the comma-separated "?" list. The prefix args are prepended before each
// chunk's args (e.g., a fixed filter value).
func queryInChunks[T any](ctx context.Context, db *sql.DB, ids []T, prefixArgs []interface{}, queryTemplate string, fn func(*sql.Rows) error) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(prefixArgs)+len(chunk))
		args = append(args, prefixArgs...)
		for j, id := range chunk {
			placeholders[j] = "?"
			args = append(args, id)
		}

		query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}

		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// insertInChunks executes a multi-value INSERT in chunks to stay within SQLite's
// parameter limit (999). The valuesPerRow specifies how many parameters are in
// each VALUES tuple (e.g., 4 for "(?, ?, ?, ?)"). The valueBuilder function
// generates the VALUES placeholders and args for each chunk of indices.
// querySuffix is appended after the VALUES list (e.g., an ON CONFLICT clause).
func insertInChunks(ctx context.Context, tx *sql.Tx, totalRows int, valuesPerRow int, queryPrefix, querySuffix string, valueBuilder func(start, end int) ([]string, []interface{})) error {
	// SQLite default SQLITE_MAX_VARIABLE_NUMBER is 999
	// Leave some margin for safety
	const maxParams = 900
	chunkSize := maxParams / valuesPerRow
	if chunkSize < 1 {
		chunkSize = 1
	}

	for i := 0; i < totalRows; i += chunkSize {
		end := i + chunkSize
		if end > totalRows {
			end = totalRows
		}

		values, args := valueBuilder(i, end)
		query := queryPrefix + strings.Join(values, ",") + querySuffix
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// execInChunks executes a parameterized statement (DELETE, UPDATE) over an id
// list in chunks. queryTemplate must contain a single %s placeholder for the
// comma-separated "?" list.
func execInChunks[T any](ctx context.Context, tx *sql.Tx, ids []T, queryTemplate string) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}

		query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// InitSchema initializes the database schema.
// This creates all tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}

	// The vector table is optional: builds without the vec0 module still get
	// a working metadata store, just no semantic search.
	vecDDL := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_emails USING vec0(embedding float[%d] distance_metric=cosine)",
		s.dimension,
	)
	if _, err := s.db.ExecContext(ctx, vecDDL); err != nil {
		if isSQLiteError(err, "no such module: vec0") {
			s.vecAvailable = false
		} else {
			return fmt.Errorf("init vec schema: %w", err)
		}
	} else {
		s.vecAvailable = true
	}

	return nil
}

// Stats holds database statistics.
type Stats struct {
	EmailCount         int64
	VectorCount        int64
	LabelCount         int64
	ExpenseCount       int64
	CategorizedWithLLM int64
	WithActionItems    int64
	DatabaseSize       int64
}

// GetStats returns statistics about the database.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM emails", &stats.EmailCount},
		{"SELECT COUNT(*) FROM vec_emails", &stats.VectorCount},
		{"SELECT COUNT(*) FROM labels", &stats.LabelCount},
		{"SELECT COUNT(*) FROM expenses", &stats.ExpenseCount},
		{"SELECT COUNT(*) FROM emails WHERE llm_categorized = 1", &stats.CategorizedWithLLM},
		{"SELECT COUNT(*) FROM emails WHERE has_action_items = 1", &stats.WithActionItems},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	// Get database file size
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

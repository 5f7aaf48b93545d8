/*
Package sqlite provides a SQLite-backed implementation of generic.DocumentStore.

PURPOSE:
  Persists every collection (account holders, courses, enrollments, charges,
  transactions, top-up rules, schedules, NRIC registry, job runs) as JSON
  documents in a single table. Field lookups use SQLite's JSON1 functions,
  so no per-entity schema has to be maintained.

KEY TABLES:
  documents: (collection, id) -> JSON body, with an insertion sequence

INDEXES:
  - documents_collection_id: unique key, Get/Patch/Remove hot path
  - documents_collection_seq: ordered listing
  - documents_account / documents_course / documents_reference:
      expression indexes on the foreign keys used by GetByField

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Patch is a read-merge-write inside a
  SQL transaction so a concurrent writer never observes a half-merged body.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/edusave.db")
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

  accounts := generic.NewCollection[education.AccountHolder](store, "accountHolders")

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definition
  - generic/store/memory.go: In-memory implementation for testing
  - store/mongo/mongo.go: MongoDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// Store implements generic.DocumentStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS documents_collection_seq
		ON documents(collection, seq);

	-- Foreign keys looked up by the engine
	CREATE INDEX IF NOT EXISTS documents_account
		ON documents(collection, json_extract(body, '$.accountId'));
	CREATE INDEX IF NOT EXISTS documents_course
		ON documents(collection, json_extract(body, '$.courseId'));
	CREATE INDEX IF NOT EXISTS documents_reference
		ON documents(collection, json_extract(body, '$.reference'));
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE (generic.DocumentStore interface)
// =============================================================================

// List returns all documents of a collection in insertion order.
func (s *Store) List(ctx context.Context, collection string) ([]generic.RawDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryDocuments(ctx,
		"SELECT id, body FROM documents WHERE collection = ? ORDER BY seq ASC",
		collection,
	)
}

// Get retrieves a document by ID.
func (s *Store) Get(ctx context.Context, collection, id string) (*generic.RawDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&body)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &generic.RawDocument{ID: id, Body: json.RawMessage(body)}, nil
}

// Find returns documents whose top-level field equals value.
func (s *Store) Find(ctx context.Context, collection, field, value string) ([]generic.RawDocument, error) {
	if !generic.ValidField(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, body FROM documents
		WHERE collection = ? AND json_extract(body, '$.` + field + `') = ?
		ORDER BY seq ASC
	`
	return s.queryDocuments(ctx, query, collection, value)
}

// Insert writes a new document.
func (s *Store) Insert(ctx context.Context, collection string, doc generic.RawDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, collection, doc.ID, string(doc.Body), now, now)

	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("duplicate id %s in %s", doc.ID, collection)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Patch merges fields into an existing document.
func (s *Store) Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return generic.ErrNotFound
	}
	if err != nil {
		return err
	}

	merged, err := generic.MergeFields(json.RawMessage(body), fields)
	if err != nil {
		return fmt.Errorf("failed to merge document: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?",
		string(merged), time.Now().UTC().Format(time.RFC3339), collection, id,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes a document.
func (s *Store) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrNotFound
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	return err
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]generic.RawDocument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []generic.RawDocument
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		docs = append(docs, generic.RawDocument{ID: id, Body: json.RawMessage(body)})
	}
	return docs, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

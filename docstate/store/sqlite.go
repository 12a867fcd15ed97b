package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tvaroska/docstate-go/docstate/document"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps the whole document graph in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process pipelines
//   - Local pipelines requiring persistence
//
// The store uses WAL mode for concurrent reads, enables foreign keys so that
// deleting a document cascades to its descendants, and serializes writes
// through a single connection, which SQLite requires anyway.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	cfg    config
}

// NewSQLiteStore creates a SQLite-backed document store.
//
// The path parameter specifies the database file location:
//   - "./pipeline.db" - file in current directory
//   - "/tmp/docs.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and the documents table
// with its indexes, enables WAL mode, and configures a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./pipeline.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	cfg := newConfig(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection keeps
	// transactions from fighting over the file and keeps :memory: databases
	// on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeoutMillis())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
		cfg:  cfg,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the documents schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			content TEXT,
			media_type TEXT NOT NULL DEFAULT 'text/plain',
			url TEXT,
			parent_id TEXT REFERENCES documents(id) ON DELETE CASCADE,
			metadata TEXT NOT NULL DEFAULT '{}'
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state)",
		"CREATE INDEX IF NOT EXISTS idx_documents_parent_id ON documents(parent_id)",
		"CREATE INDEX IF NOT EXISTS idx_documents_state_media_type ON documents(state, media_type)",
		"CREATE INDEX IF NOT EXISTS idx_documents_parent_id_state ON documents(parent_id, state)",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// querier is the common surface of *sql.DB and *sql.Tx used by the document
// CRUD helpers, so the same code serves both direct and transactional calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const documentColumns = "id, state, content, media_type, url, parent_id, metadata"
const documentColumnsNoContent = "id, state, media_type, url, parent_id, metadata"

// placeholders returns "?, ?, ..." with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// nullable maps "" to SQL NULL on write.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isSQLiteConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanSQLDoc scans one documents row. The row must carry documentColumns or
// documentColumnsNoContent depending on withContent.
func scanSQLDoc(sc interface{ Scan(...any) error }, withContent bool) (*document.Document, error) {
	var (
		doc      document.Document
		content  sql.NullString
		url      sql.NullString
		parentID sql.NullString
		metaJSON string
	)
	var err error
	if withContent {
		err = sc.Scan(&doc.ID, &doc.State, &content, &doc.MediaType, &url, &parentID, &metaJSON)
	} else {
		err = sc.Scan(&doc.ID, &doc.State, &doc.MediaType, &url, &parentID, &metaJSON)
	}
	if err != nil {
		return nil, err
	}
	doc.Content = content.String
	doc.URL = url.String
	doc.ParentID = parentID.String
	doc.Metadata = map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %q: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

// trace logs the statement when echo is enabled.
func (s *SQLiteStore) trace(query string, args ...any) {
	if s.cfg.echo && s.cfg.logger != nil {
		s.cfg.logger.WithField("args", args).Debug(strings.Join(strings.Fields(query), " "))
	}
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// addDocs inserts the documents through q in input order.
func (s *SQLiteStore) addDocs(ctx context.Context, q querier, docs []*document.Document) ([]string, error) {
	query := `
		INSERT INTO documents (id, state, content, media_type, url, parent_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("cannot add nil document")
		}
		doc.ApplyDefaults()

		meta, err := cloneMetadata(doc.Metadata)
		if err != nil {
			return nil, err
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}

		s.trace(query, doc.ID, doc.State)
		_, err = q.ExecContext(ctx, query,
			doc.ID,
			doc.State,
			nullable(doc.Content),
			doc.MediaType,
			nullable(doc.URL),
			nullable(doc.ParentID),
			string(metaJSON),
		)
		if isSQLiteConflict(err) {
			return nil, fmt.Errorf("%w: %q", ErrConflict, doc.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert document %q: %w", doc.ID, err)
		}
		ids = append(ids, doc.ID)
	}

	return ids, nil
}

// childIDs returns the ids of the direct children of id, in insertion order.
func (s *SQLiteStore) childIDs(ctx context.Context, q querier, id string) ([]string, error) {
	query := "SELECT id FROM documents WHERE parent_id = ? ORDER BY rowid"
	s.trace(query, id)
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %q: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", err)
		}
		ids = append(ids, cid)
	}
	return ids, rows.Err()
}

// childIDsFor maps parent id -> child ids for every id in the set.
func (s *SQLiteStore) childIDsFor(ctx context.Context, q querier, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// #nosec G201 -- placeholders are not user input, just "?" marks for parameterized query
	query := fmt.Sprintf("SELECT parent_id, id FROM documents WHERE parent_id IN (%s) ORDER BY rowid", placeholders(len(ids)))
	s.trace(query, args...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]string{}
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, fmt.Errorf("failed to scan child row: %w", err)
		}
		out[parent] = append(out[parent], child)
	}
	return out, rows.Err()
}

// getDoc reads one document with its children ids populated.
func (s *SQLiteStore) getDoc(ctx context.Context, q querier, id string, withContent bool) (*document.Document, error) {
	cols := documentColumns
	if !withContent {
		cols = documentColumnsNoContent
	}
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id = ?", cols)
	s.trace(query, id)
	doc, err := scanSQLDoc(q.QueryRowContext(ctx, query, id), withContent)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %q: %w", id, err)
	}

	children, err := s.childIDs(ctx, q, id)
	if err != nil {
		return nil, err
	}
	doc.Children = children
	return doc, nil
}

// Add inserts the documents in one atomic write (implements Store).
func (s *SQLiteStore) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback() // Ignore rollback error when already returning error
		}
	}()

	ids, err := s.addDocs(ctx, tx, docs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return ids, nil
}

// Get returns the document and its children ids (implements Store).
func (s *SQLiteStore) Get(ctx context.Context, id string) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getDoc(ctx, s.db, id, true)
}

// GetNoContent returns the document without its content payload.
func (s *SQLiteStore) GetNoContent(ctx context.Context, id string) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getDoc(ctx, s.db, id, false)
}

// GetBatch returns the documents for the given ids in a single query
// (implements Store). Missing ids are silently omitted.
func (s *SQLiteStore) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*document.Document{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// #nosec G201 -- placeholders are not user input, just "?" marks for parameterized query
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id IN (%s) ORDER BY rowid", documentColumns, placeholders(len(ids)))
	s.trace(query, args...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := collectSQLDocs(rows, true)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateChildren(ctx, s.db, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func collectSQLDocs(rows *sql.Rows, withContent bool) ([]*document.Document, error) {
	var docs []*document.Document
	for rows.Next() {
		doc, err := scanSQLDoc(rows, withContent)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) hydrateChildren(ctx context.Context, q querier, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	byParent, err := s.childIDsFor(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, d := range docs {
		d.Children = byParent[d.ID]
	}
	return nil
}

// List returns documents matching the query (implements Store).
//
// The state and leaf filters run in SQL so leaf-ness reflects one consistent
// snapshot; metadata filters compare in Go over the JSON value space, which
// keeps the comparison semantics identical across backends.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	cols := documentColumns
	if q.SkipContent {
		cols = documentColumnsNoContent
	}
	query := fmt.Sprintf("SELECT %s FROM documents WHERE state = ?", cols)
	if q.Leaf {
		query += " AND NOT EXISTS (SELECT 1 FROM documents c WHERE c.parent_id = documents.id)"
	}
	query += " ORDER BY rowid"

	s.trace(query, q.State)
	rows, err := s.db.QueryContext(ctx, query, q.State)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := collectSQLDocs(rows, !q.SkipContent)
	if err != nil {
		return nil, err
	}

	if len(q.Metadata) > 0 {
		filtered := docs[:0]
		for _, d := range docs {
			if metadataMatches(d.Metadata, q.Metadata) {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	if !q.Leaf {
		if err := s.hydrateChildren(ctx, s.db, docs); err != nil {
			return nil, err
		}
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return docs, nil
}

// ListStates returns all documents whose state is in the given set
// (implements Store).
func (s *SQLiteStore) ListStates(ctx context.Context, states []string) ([]*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return []*document.Document{}, nil
	}

	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}
	// #nosec G201 -- placeholders are not user input, just "?" marks for parameterized query
	query := fmt.Sprintf("SELECT %s FROM documents WHERE state IN (%s) ORDER BY rowid", documentColumns, placeholders(len(states)))
	s.trace(query, args...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := collectSQLDocs(rows, true)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateChildren(ctx, s.db, docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return docs, nil
}

// Count returns the number of documents, optionally filtered by state
// (implements Store).
func (s *SQLiteStore) Count(ctx context.Context, state string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	query := "SELECT COUNT(id) FROM documents"
	args := []any{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, state)
	}

	s.trace(query, args...)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Delete removes the document and all of its descendants (implements Store).
// Deleting a missing id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	query := "DELETE FROM documents WHERE id = ?"
	s.trace(query, id)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", id, err)
	}
	return nil
}

// Update merges meta into the stored document's metadata after verifying the
// supplied document matches the stored record (implements Store).
func (s *SQLiteStore) Update(ctx context.Context, ref *document.Document, meta map[string]any) (*document.Document, error) {
	if ref == nil {
		return nil, fmt.Errorf("cannot update nil document")
	}
	return s.update(ctx, ref.ID, ref, meta)
}

// UpdateByID merges meta into the stored document's metadata (implements
// Store).
func (s *SQLiteStore) UpdateByID(ctx context.Context, id string, meta map[string]any) (*document.Document, error) {
	return s.update(ctx, id, nil, meta)
}

func (s *SQLiteStore) update(ctx context.Context, id string, ref *document.Document, meta map[string]any) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback() // Ignore rollback error when already returning error
		}
	}()

	doc, err := s.getDoc(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	if ref != nil {
		if ref.State != doc.State || ref.Content != doc.Content || ref.MediaType != doc.MediaType {
			return nil, fmt.Errorf("%w: document %q", ErrMismatch, id)
		}
	}

	merged, err := mergeMetadata(doc.Metadata, meta)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := "UPDATE documents SET metadata = ? WHERE id = ?"
	s.trace(query, id)
	if _, err := tx.ExecContext(ctx, query, string(metaJSON), id); err != nil {
		return nil, fmt.Errorf("failed to update document %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	doc.Metadata = merged
	return doc, nil
}

// StreamContent yields the document's content in fixed-size chunks
// (implements Store). Chunks are paged with SUBSTR so large bodies are never
// loaded whole.
func (s *SQLiteStore) StreamContent(ctx context.Context, id string, chunkSize int) (*ContentStream, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check document %q: %w", id, err)
	}

	fetch := func(ctx context.Context, offset, size int) (string, error) {
		query := "SELECT substr(content, ?, ?) FROM documents WHERE id = ?"
		s.trace(query, offset+1, size, id)
		var chunk sql.NullString
		err := s.db.QueryRowContext(ctx, query, offset+1, size, id).Scan(&chunk)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: document %q", ErrNotFound, id)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read content chunk: %w", err)
		}
		return chunk.String, nil
	}

	return newContentStream(ctx, chunkSize, fetch), nil
}

// WithTx runs fn inside a single SQLite transaction (implements Store).
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback() // Rolls back on error and on panic
		}
	}()

	if err := fn(&sqliteTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// sqliteTx exposes the transactional slice of the store.
type sqliteTx struct {
	s  *SQLiteStore
	tx *sql.Tx
}

func (t *sqliteTx) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	return t.s.addDocs(ctx, t.tx, docs)
}

func (t *sqliteTx) Get(ctx context.Context, id string) (*document.Document, error) {
	return t.s.getDoc(ctx, t.tx, id, true)
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

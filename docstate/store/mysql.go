package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/tvaroska/docstate-go/docstate/document"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It stores the document graph in a relational database. Designed for:
//   - Production pipelines requiring persistence
//   - Long-running pipelines that survive process restarts
//   - Audit trails over the document lineage
//
// The store uses connection pooling, InnoDB transactions, and a native JSON
// column for metadata. Deleting a document cascades to its descendants
// through the parent_id foreign key.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	cfg    config
}

// NewMySQLStore creates a MySQL-backed document store.
//
// The DSN format follows go-sql-driver/mysql:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
// The store configures the connection pool from the pool options, verifies
// the connection with an exponentially backed-off ping, and creates the
// documents table with its indexes if missing.
func NewMySQLStore(dsn string, opts ...Option) (*MySQLStore, error) {
	cfg := newConfig(opts)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxIdleConns(cfg.poolSize)
	db.SetMaxOpenConns(cfg.poolSize + cfg.maxOverflow)
	db.SetConnMaxLifetime(cfg.poolRecycle)

	ctx := context.Background()
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.maxElapsed()
	err = backoff.Retry(func() error {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			cfg.logger.WithError(pingErr).Debug("MySQL ping failed, retrying")
			return pingErr
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{
		db:  db,
		cfg: cfg,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the documents schema if it doesn't exist.
//
// The seq column carries insertion order; MySQL has no rowid, and
// AUTO_INCREMENT requires a key, so it gets its own unique index.
func (s *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(255) PRIMARY KEY,
			seq BIGINT NOT NULL AUTO_INCREMENT,
			state VARCHAR(255) NOT NULL,
			content LONGTEXT,
			media_type VARCHAR(255) NOT NULL DEFAULT 'text/plain',
			url TEXT,
			parent_id VARCHAR(255),
			metadata JSON NOT NULL,
			UNIQUE KEY uk_documents_seq (seq),
			INDEX idx_documents_state (state),
			INDEX idx_documents_parent_id (parent_id),
			INDEX idx_documents_state_media_type (state, media_type),
			INDEX idx_documents_parent_id_state (parent_id, state),
			CONSTRAINT fk_documents_parent FOREIGN KEY (parent_id)
				REFERENCES documents(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// isMySQLConflict reports a duplicate-key insert (error 1062).
func isMySQLConflict(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// trace logs the statement when echo is enabled.
func (s *MySQLStore) trace(query string, args ...any) {
	if s.cfg.echo && s.cfg.logger != nil {
		s.cfg.logger.WithField("args", args).Debug(strings.Join(strings.Fields(query), " "))
	}
}

func (s *MySQLStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// addDocs inserts the documents through q in input order.
func (s *MySQLStore) addDocs(ctx context.Context, q querier, docs []*document.Document) ([]string, error) {
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
		if isMySQLConflict(err) {
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
func (s *MySQLStore) childIDs(ctx context.Context, q querier, id string) ([]string, error) {
	query := "SELECT id FROM documents WHERE parent_id = ? ORDER BY seq"
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
func (s *MySQLStore) childIDsFor(ctx context.Context, q querier, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// #nosec G201 -- placeholders are not user input, just "?" marks for parameterized query
	query := fmt.Sprintf("SELECT parent_id, id FROM documents WHERE parent_id IN (%s) ORDER BY seq", placeholders(len(ids)))
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
func (s *MySQLStore) getDoc(ctx context.Context, q querier, id string, withContent bool) (*document.Document, error) {
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

func (s *MySQLStore) hydrateChildren(ctx context.Context, q querier, docs []*document.Document) error {
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

// Add inserts the documents in one atomic write (implements Store).
func (s *MySQLStore) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
func (s *MySQLStore) Get(ctx context.Context, id string) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getDoc(ctx, s.db, id, true)
}

// GetNoContent returns the document without its content payload.
func (s *MySQLStore) GetNoContent(ctx context.Context, id string) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getDoc(ctx, s.db, id, false)
}

// GetBatch returns the documents for the given ids in a single query
// (implements Store). Missing ids are silently omitted.
func (s *MySQLStore) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
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
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id IN (%s) ORDER BY seq", documentColumns, placeholders(len(ids)))
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

// List returns documents matching the query (implements Store).
func (s *MySQLStore) List(ctx context.Context, q Query) ([]*document.Document, error) {
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
	query += " ORDER BY seq"

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
func (s *MySQLStore) ListStates(ctx context.Context, states []string) ([]*document.Document, error) {
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
	query := fmt.Sprintf("SELECT %s FROM documents WHERE state IN (%s) ORDER BY seq", documentColumns, placeholders(len(states)))
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
func (s *MySQLStore) Count(ctx context.Context, state string) (int, error) {
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
// Deleting a missing id is a no-op; the cascade runs in InnoDB.
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
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
func (s *MySQLStore) Update(ctx context.Context, ref *document.Document, meta map[string]any) (*document.Document, error) {
	if ref == nil {
		return nil, fmt.Errorf("cannot update nil document")
	}
	return s.update(ctx, ref.ID, ref, meta)
}

// UpdateByID merges meta into the stored document's metadata (implements
// Store).
func (s *MySQLStore) UpdateByID(ctx context.Context, id string, meta map[string]any) (*document.Document, error) {
	return s.update(ctx, id, nil, meta)
}

func (s *MySQLStore) update(ctx context.Context, id string, ref *document.Document, meta map[string]any) (*document.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
// (implements Store). Chunks are paged with SUBSTRING, which counts
// characters under utf8mb4, so large bodies are never loaded whole.
func (s *MySQLStore) StreamContent(ctx context.Context, id string, chunkSize int) (*ContentStream, error) {
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
		query := "SELECT SUBSTRING(content, ?, ?) FROM documents WHERE id = ?"
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

// WithTx runs fn inside a single MySQL transaction (implements Store).
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback() // Rolls back on error and on panic
		}
	}()

	if err := fn(&mysqlTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// mysqlTx exposes the transactional slice of the store.
type mysqlTx struct {
	s  *MySQLStore
	tx *sql.Tx
}

func (t *mysqlTx) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	return t.s.addDocs(ctx, t.tx, docs)
}

func (t *mysqlTx) Get(ctx context.Context, id string) (*document.Document, error) {
	return t.s.getDoc(ctx, t.tx, id, true)
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Stats returns connection pool statistics, for health monitoring.
func (s *MySQLStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Stats()
}

// Close closes the connection pool. Double-close is a no-op.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Package store provides durable persistence for pipeline documents: the
// Store contract used by the docstate engine plus SQLite, MySQL, and
// in-memory implementations.
//
// All implementations share the same logical layout: one documents table
// keyed by id, indexed by state and by parent_id, with a JSON metadata
// column. Children are derived from parent_id at read time; there is no
// stored children column. Cascade delete follows parent_id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by Add when a document id already exists.
var ErrConflict = errors.New("id already exists")

// ErrMismatch is returned by Update when the supplied document disagrees
// with the stored record on state, content, or media type.
var ErrMismatch = errors.New("document does not match stored record")

// DefaultChunkSize is used by StreamContent when the caller passes a
// non-positive chunk size.
const DefaultChunkSize = 1024

// Store is the persistence contract the engine runs against.
//
// All methods are safe for concurrent use. Every write is atomic at the
// granularity of a single call; multi-document Add is all-or-nothing.
// Documents returned from reads are snapshots: later store writes do not
// propagate into them.
type Store interface {
	// Add inserts the documents in one atomic write, assigning missing ids
	// and the default media type on the passed values, and returns the final
	// ids in input order. Fails with ErrConflict if any id already exists.
	// An empty call is a no-op.
	Add(ctx context.Context, docs ...*document.Document) ([]string, error)

	// Get returns the document and the ids of its children in a single
	// read, or ErrNotFound.
	Get(ctx context.Context, id string) (*document.Document, error)

	// GetNoContent is Get without the content payload, for large bodies.
	GetNoContent(ctx context.Context, id string) (*document.Document, error)

	// GetBatch returns the documents for the given ids in one query.
	// Missing ids are silently omitted. Empty input returns empty output
	// without touching the backend.
	GetBatch(ctx context.Context, ids []string) ([]*document.Document, error)

	// List returns documents matching the query; see Query.
	List(ctx context.Context, q Query) ([]*document.Document, error)

	// ListStates returns all documents whose state is in the given set,
	// in a single query. Used for the driver's terminal gather.
	ListStates(ctx context.Context, states []string) ([]*document.Document, error)

	// Count returns the number of documents, filtered by state when state
	// is non-empty.
	Count(ctx context.Context, state string) (int, error)

	// Delete removes the document and every descendant. Deleting a missing
	// id is a no-op.
	Delete(ctx context.Context, id string) error

	// Update merges meta into the stored document's metadata with per-key
	// overwrite and returns the refreshed document. The supplied document's
	// state, content, and media type must match the stored record
	// (ErrMismatch otherwise); neither state nor content can be changed
	// through this call.
	Update(ctx context.Context, ref *document.Document, meta map[string]any) (*document.Document, error)

	// UpdateByID is Update addressed by id, without the match check.
	UpdateByID(ctx context.Context, id string, meta map[string]any) (*document.Document, error)

	// StreamContent yields the document's content in chunkSize-character
	// chunks, in order. Empty content yields a single empty chunk. Fails
	// with ErrNotFound when the id is absent.
	StreamContent(ctx context.Context, id string, chunkSize int) (*ContentStream, error)

	// WithTx runs fn inside one backend transaction: every write made
	// through the Tx commits or rolls back together. fn returning an error
	// aborts the transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend resources. Double-close is a no-op.
	Close() error
}

// Tx is the slice of the store available inside WithTx. Reads through the
// transaction observe its own uncommitted writes.
type Tx interface {
	Add(ctx context.Context, docs ...*document.Document) ([]string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
}

// Query selects documents for Store.List.
type Query struct {
	// State filters by exact state name. Required.
	State string

	// Leaf, when true, excludes documents that have at least one child at
	// query time.
	Leaf bool

	// SkipContent omits the content payload from the results.
	SkipContent bool

	// Metadata filters require every (key, value) pair to be present in the
	// document's metadata. Values compare structurally over the JSON value
	// space, so 3 matches 3.0 and nested maps compare by content.
	Metadata map[string]any
}

// ContentStream iterates over a document's content in fixed-size chunks.
// Usage follows the sql.Rows shape:
//
//	stream, err := st.StreamContent(ctx, id, 1024)
//	if err != nil { ... }
//	for stream.Next() {
//	    chunk := stream.Chunk()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Chunks are measured in characters, matching SUBSTR semantics of the SQL
// backends, so multi-byte runes are never split.
type ContentStream struct {
	ctx     context.Context
	fetch   func(ctx context.Context, offset, size int) (string, error)
	size    int
	offset  int
	chunk   string
	err     error
	started bool
	done    bool
}

func newContentStream(ctx context.Context, chunkSize int, fetch func(ctx context.Context, offset, size int) (string, error)) *ContentStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ContentStream{ctx: ctx, fetch: fetch, size: chunkSize}
}

// Next advances to the next chunk. It returns false when the content is
// exhausted or an error occurred; check Err afterwards.
func (cs *ContentStream) Next() bool {
	if cs.done || cs.err != nil {
		return false
	}
	chunk, err := cs.fetch(cs.ctx, cs.offset, cs.size)
	if err != nil {
		cs.err = err
		cs.done = true
		return false
	}
	n := utf8.RuneCountInString(chunk)
	if n == 0 && cs.started {
		cs.done = true
		return false
	}
	cs.started = true
	cs.chunk = chunk
	cs.offset += n
	if n < cs.size {
		cs.done = true
	}
	return true
}

// Chunk returns the chunk read by the last successful Next.
func (cs *ContentStream) Chunk() string { return cs.chunk }

// Err returns the first error encountered while streaming, if any.
func (cs *ContentStream) Err() error { return cs.err }

// normalizeJSON pushes a value through a JSON round trip so that values
// written by different Go types compare the way the JSON columns store them
// (all numbers become float64, structs become maps).
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata value: %w", err)
	}
	return out, nil
}

// jsonEqual compares two values structurally over the JSON value space.
func jsonEqual(a, b any) bool {
	na, err := normalizeJSON(a)
	if err != nil {
		return false
	}
	nb, err := normalizeJSON(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// metadataMatches reports whether meta contains every pair in filters.
func metadataMatches(meta, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	if meta == nil {
		return false
	}
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

// cloneMetadata deep-copies a metadata map through a JSON round trip. A nil
// map clones to an empty map, matching the '{}' column default.
func cloneMetadata(meta map[string]any) (map[string]any, error) {
	if len(meta) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return out, nil
}

// mergeMetadata applies updates onto base with per-key overwrite, returning
// a fresh map.
func mergeMetadata(base, updates map[string]any) (map[string]any, error) {
	merged, err := cloneMetadata(base)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		nv, err := normalizeJSON(v)
		if err != nil {
			return nil, err
		}
		merged[k] = nv
	}
	return merged, nil
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps the document graph in maps guarded by a mutex. Designed for:
//   - Testing and development
//   - Short-lived pipelines where persistence isn't required
//
// Metadata is round-tripped through JSON on every write so value semantics
// (numbers as float64, maps by structure) match the SQL backends exactly.
// Data is lost when the process terminates.
type MemStore struct {
	mu     sync.RWMutex
	docs   map[string]*document.Document
	order  []string
	closed bool
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]*document.Document),
	}
}

func (m *MemStore) guardLocked() error {
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// snapshot copies a stored document, detaching it from later writes.
func snapshot(doc *document.Document, withContent bool) (*document.Document, error) {
	meta, err := cloneMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}
	out := &document.Document{
		ID:        doc.ID,
		State:     doc.State,
		MediaType: doc.MediaType,
		URL:       doc.URL,
		ParentID:  doc.ParentID,
		Metadata:  meta,
	}
	if withContent {
		out.Content = doc.Content
	}
	return out, nil
}

// childIDsLocked returns the ids of direct children in insertion order.
func (m *MemStore) childIDsLocked(id string) []string {
	var children []string
	for _, cid := range m.order {
		if m.docs[cid].ParentID == id {
			children = append(children, cid)
		}
	}
	return children
}

// stageAdd validates and normalizes docs against the current contents plus
// the staged set, without touching the store. Shared by Add and memTx.
func (m *MemStore) stageAdd(staged map[string]*document.Document, stagedOrder []string, docs []*document.Document) ([]string, []string, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			return nil, nil, fmt.Errorf("cannot add nil document")
		}
		doc.ApplyDefaults()
		if _, exists := m.docs[doc.ID]; exists {
			return nil, nil, fmt.Errorf("%w: %q", ErrConflict, doc.ID)
		}
		if _, exists := staged[doc.ID]; exists {
			return nil, nil, fmt.Errorf("%w: %q", ErrConflict, doc.ID)
		}
		stored, err := snapshot(doc, true)
		if err != nil {
			return nil, nil, err
		}
		staged[doc.ID] = stored
		stagedOrder = append(stagedOrder, doc.ID)
		ids = append(ids, doc.ID)
	}
	return ids, stagedOrder, nil
}

// commitLocked merges a staged set into the store.
func (m *MemStore) commitLocked(staged map[string]*document.Document, stagedOrder []string) {
	for _, id := range stagedOrder {
		m.docs[id] = staged[id]
		m.order = append(m.order, id)
	}
}

// Add inserts the documents in one atomic write (implements Store).
func (m *MemStore) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	staged := map[string]*document.Document{}
	ids, stagedOrder, err := m.stageAdd(staged, nil, docs)
	if err != nil {
		return nil, err
	}
	m.commitLocked(staged, stagedOrder)
	return ids, nil
}

func (m *MemStore) get(id string, withContent bool) (*document.Document, error) {
	stored, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	doc, err := snapshot(stored, withContent)
	if err != nil {
		return nil, err
	}
	doc.Children = m.childIDsLocked(id)
	return doc, nil
}

// Get returns the document and its children ids (implements Store).
func (m *MemStore) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}
	return m.get(id, true)
}

// GetNoContent returns the document without its content payload.
func (m *MemStore) GetNoContent(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}
	return m.get(id, false)
}

// GetBatch returns the documents for the given ids (implements Store).
// Missing ids are silently omitted.
func (m *MemStore) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
	if len(ids) == 0 {
		return []*document.Document{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	docs := []*document.Document{}
	for _, id := range m.order {
		if _, ok := want[id]; !ok {
			continue
		}
		doc, err := m.get(id, true)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// List returns documents matching the query (implements Store).
func (m *MemStore) List(ctx context.Context, q Query) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	docs := []*document.Document{}
	for _, id := range m.order {
		stored := m.docs[id]
		if stored.State != q.State {
			continue
		}
		children := m.childIDsLocked(id)
		if q.Leaf && len(children) > 0 {
			continue
		}
		if !metadataMatches(stored.Metadata, q.Metadata) {
			continue
		}
		doc, err := snapshot(stored, !q.SkipContent)
		if err != nil {
			return nil, err
		}
		if !q.Leaf {
			doc.Children = children
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ListStates returns all documents whose state is in the given set
// (implements Store).
func (m *MemStore) ListStates(ctx context.Context, states []string) ([]*document.Document, error) {
	if len(states) == 0 {
		return []*document.Document{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}
	docs := []*document.Document{}
	for _, id := range m.order {
		if _, ok := want[m.docs[id].State]; !ok {
			continue
		}
		doc, err := m.get(id, true)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Count returns the number of documents, optionally filtered by state
// (implements Store).
func (m *MemStore) Count(ctx context.Context, state string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return 0, err
	}

	if state == "" {
		return len(m.docs), nil
	}
	n := 0
	for _, doc := range m.docs {
		if doc.State == state {
			n++
		}
	}
	return n, nil
}

// Delete removes the document and all of its descendants (implements Store).
// Deleting a missing id is a no-op.
func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(); err != nil {
		return err
	}

	if _, ok := m.docs[id]; !ok {
		return nil
	}

	doomed := map[string]struct{}{id: {}}
	// Walk down the lineage until no new descendants appear.
	for {
		grew := false
		for _, doc := range m.docs {
			if doc.ParentID == "" {
				continue
			}
			if _, dead := doomed[doc.ParentID]; !dead {
				continue
			}
			if _, seen := doomed[doc.ID]; !seen {
				doomed[doc.ID] = struct{}{}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	for did := range doomed {
		delete(m.docs, did)
	}
	kept := m.order[:0]
	for _, oid := range m.order {
		if _, dead := doomed[oid]; !dead {
			kept = append(kept, oid)
		}
	}
	m.order = kept
	return nil
}

// Update merges meta into the stored document's metadata after verifying the
// supplied document matches the stored record (implements Store).
func (m *MemStore) Update(ctx context.Context, ref *document.Document, meta map[string]any) (*document.Document, error) {
	if ref == nil {
		return nil, fmt.Errorf("cannot update nil document")
	}
	return m.update(ref.ID, ref, meta)
}

// UpdateByID merges meta into the stored document's metadata (implements
// Store).
func (m *MemStore) UpdateByID(ctx context.Context, id string, meta map[string]any) (*document.Document, error) {
	return m.update(id, nil, meta)
}

func (m *MemStore) update(id string, ref *document.Document, meta map[string]any) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	stored, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	if ref != nil {
		if ref.State != stored.State || ref.Content != stored.Content || ref.MediaType != stored.MediaType {
			return nil, fmt.Errorf("%w: document %q", ErrMismatch, id)
		}
	}

	merged, err := mergeMetadata(stored.Metadata, meta)
	if err != nil {
		return nil, err
	}
	stored.Metadata = merged

	return m.get(id, true)
}

// StreamContent yields the document's content in fixed-size chunks
// (implements Store).
func (m *MemStore) StreamContent(ctx context.Context, id string, chunkSize int) (*ContentStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	stored, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	// Snapshot the content so concurrent updates never affect the stream.
	runes := []rune(stored.Content)

	fetch := func(ctx context.Context, offset, size int) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if offset >= len(runes) {
			return "", nil
		}
		end := offset + size
		if end > len(runes) {
			end = len(runes)
		}
		return string(runes[offset:end]), nil
	}

	return newContentStream(ctx, chunkSize, fetch), nil
}

// WithTx runs fn against a staged view of the store (implements Store). The
// staged writes become visible atomically when fn returns nil and are
// discarded when it returns an error.
func (m *MemStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(); err != nil {
		return err
	}

	tx := &memTx{store: m, staged: map[string]*document.Document{}}
	if err := fn(tx); err != nil {
		return err
	}
	m.commitLocked(tx.staged, tx.stagedOrder)
	return nil
}

// memTx stages writes until the enclosing WithTx commits. Reads through the
// transaction observe the staged documents.
type memTx struct {
	store       *MemStore
	staged      map[string]*document.Document
	stagedOrder []string
}

func (t *memTx) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	ids, stagedOrder, err := t.store.stageAdd(t.staged, t.stagedOrder, docs)
	if err != nil {
		return nil, err
	}
	t.stagedOrder = stagedOrder
	return ids, nil
}

func (t *memTx) Get(ctx context.Context, id string) (*document.Document, error) {
	stored, ok := t.store.docs[id]
	if !ok {
		stored, ok = t.staged[id]
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	doc, err := snapshot(stored, true)
	if err != nil {
		return nil, err
	}
	children := t.store.childIDsLocked(id)
	for _, sid := range t.stagedOrder {
		if t.staged[sid].ParentID == id {
			children = append(children, sid)
		}
	}
	doc.Children = children
	return doc, nil
}

// Ping reports whether the store is usable (implements Store).
func (m *MemStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guardLocked()
}

// Close marks the store closed. Double-close is a no-op.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

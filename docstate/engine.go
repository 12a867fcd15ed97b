// Package docstate implements a persistent document pipeline: documents move
// through a user-defined graph of states, each transition handing the
// document to a processor whose outputs are stored as children of the input.
// The engine schedules transitions concurrently, captures processor failures
// as error documents, and drives pipelines to completion over a pluggable
// store.
package docstate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tvaroska/docstate-go/docstate/document"
	"github.com/tvaroska/docstate-go/docstate/emit"
	"github.com/tvaroska/docstate-go/docstate/store"
)

// Engine binds a document type to a store and runs pipelines over it.
//
// An Engine is safe for concurrent use. The bound type is immutable while a
// Finish run is active; SetType fails with ErrBusy until the run completes.
type Engine struct {
	store     store.Store
	ownsStore bool

	emitter emit.Emitter
	logger  logrus.FieldLogger
	metrics *Metrics

	errorState     string
	maxConcurrency int

	mu     sync.RWMutex
	typ    *document.Type
	active atomic.Int32
}

// New builds an engine over a caller-owned store. The store is not closed by
// Engine.Close; the caller keeps that responsibility.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, &PipelineError{Message: "store must not be nil", Code: "BAD_OPTION"}
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:          st,
		emitter:        cfg.emitter,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		errorState:     cfg.errorState,
		maxConcurrency: cfg.maxConcurrency,
		typ:            cfg.typ,
	}, nil
}

// Open builds an engine over a store resolved from a connection string
// (":memory:", "sqlite://path", "mysql://dsn"). The engine owns the store and
// closes it on Engine.Close.
func Open(ctx context.Context, connectionString string, opts ...Option) (*Engine, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	storeOpts := append([]store.Option{store.WithLogger(cfg.logger)}, cfg.storeOpts...)
	st, err := store.Open(ctx, connectionString, storeOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:          st,
		ownsStore:      true,
		emitter:        cfg.emitter,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		errorState:     cfg.errorState,
		maxConcurrency: cfg.maxConcurrency,
		typ:            cfg.typ,
	}, nil
}

// Close releases the engine. The underlying store is closed only when the
// engine opened it itself.
func (e *Engine) Close() error {
	if e.ownsStore {
		return e.store.Close()
	}
	return nil
}

// SetType binds or replaces the document type. It fails with ErrBusy while a
// Finish run is active: the run plans against the graph it started with, so
// swapping it mid-flight would desynchronize scheduler and executor.
func (e *Engine) SetType(t *document.Type) error {
	if e.active.Load() > 0 {
		return &PipelineError{Message: "cannot replace document type while a run is active", Code: "BUSY"}
	}
	e.mu.Lock()
	e.typ = t
	e.mu.Unlock()
	return nil
}

// Type returns the currently bound document type, or nil.
func (e *Engine) Type() *document.Type {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.typ
}

// ErrorState returns the state name used for synthesized error documents.
func (e *Engine) ErrorState() string {
	return e.errorState
}

// MaxConcurrency returns the configured executor parallelism bound.
func (e *Engine) MaxConcurrency() int {
	return e.maxConcurrency
}

// Store returns the underlying store for operations the engine surface does
// not cover.
func (e *Engine) Store() store.Store {
	return e.store
}

// boundType returns the bound type or a NO_TYPE error.
func (e *Engine) boundType() (*document.Type, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.typ == nil {
		return nil, &PipelineError{Message: "no document type bound to engine", Code: "NO_TYPE"}
	}
	return e.typ, nil
}

// Store passthroughs, so common operations do not force callers through
// Engine.Store().

// Add inserts documents through the underlying store.
func (e *Engine) Add(ctx context.Context, docs ...*document.Document) ([]string, error) {
	ids, err := e.store.Add(ctx, docs...)
	if err == nil {
		for _, d := range docs {
			e.metrics.AddDocumentsCreated(d.State, 1)
		}
	}
	return ids, err
}

// Get reads one document with its children ids.
func (e *Engine) Get(ctx context.Context, id string) (*document.Document, error) {
	return e.store.Get(ctx, id)
}

// GetNoContent reads one document without its content payload.
func (e *Engine) GetNoContent(ctx context.Context, id string) (*document.Document, error) {
	return e.store.GetNoContent(ctx, id)
}

// GetBatch reads several documents in one query.
func (e *Engine) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
	return e.store.GetBatch(ctx, ids)
}

// List queries documents by state, leaf status, and metadata filters.
func (e *Engine) List(ctx context.Context, q store.Query) ([]*document.Document, error) {
	return e.store.List(ctx, q)
}

// Count returns the number of stored documents, optionally filtered by state.
func (e *Engine) Count(ctx context.Context, state string) (int, error) {
	return e.store.Count(ctx, state)
}

// Delete removes a document and all of its descendants.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// Update merges metadata into a stored document after verifying the supplied
// reference matches the stored record.
func (e *Engine) Update(ctx context.Context, ref *document.Document, meta map[string]any) (*document.Document, error) {
	return e.store.Update(ctx, ref, meta)
}

// UpdateByID merges metadata into the document with the given id.
func (e *Engine) UpdateByID(ctx context.Context, id string, meta map[string]any) (*document.Document, error) {
	return e.store.UpdateByID(ctx, id, meta)
}

// StreamContent yields a document's content in fixed-size chunks.
func (e *Engine) StreamContent(ctx context.Context, id string, chunkSize int) (*store.ContentStream, error) {
	return e.store.StreamContent(ctx, id, chunkSize)
}

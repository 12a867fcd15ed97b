package docstate

import (
	"context"
	"sync"

	"github.com/tvaroska/docstate-go/docstate/document"
	"github.com/tvaroska/docstate-go/docstate/emit"
	"golang.org/x/sync/errgroup"
)

// Next advances each document one transition, running up to MaxConcurrency
// executors in parallel. The result is the flattened concatenation of every
// executor's output in completion order; order within one executor's output
// is preserved.
//
// Failures are isolated: one document's processor or persistence failure
// becomes its error document and never cancels the rest of the batch. Only
// cancellation and errors that escape an executor (an error-document write
// failure) stop the group.
func (e *Engine) Next(ctx context.Context, docs ...*document.Document) ([]*document.Document, error) {
	typ, err := e.boundType()
	if err != nil {
		return nil, err
	}

	batch := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			e.logger.Warn("skipping nil document in batch")
			continue
		}
		batch = append(batch, doc)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	e.emitter.Emit(emit.Event{Msg: "batch_start", Meta: map[string]any{"size": len(batch)}})
	e.metrics.ObserveBatch(len(batch))

	var (
		mu      sync.Mutex
		results []*document.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for _, doc := range batch {
		doc := doc
		g.Go(func() error {
			// Queued work is not started once the group is cancelled.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			children, err := e.step(gctx, typ, doc)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, children...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.emitter.Emit(emit.Event{Msg: "batch_complete", Meta: map[string]any{
		"size":     len(batch),
		"children": len(results),
	}})
	return results, nil
}

package docstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tvaroska/docstate-go/docstate/document"
	"github.com/tvaroska/docstate-go/docstate/emit"
	"github.com/tvaroska/docstate-go/docstate/store"
)

// stepError carries the symbolic failure kind alongside the cause so the
// error document can record why the transition failed.
type stepError struct {
	kind string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// step advances one document by its first outgoing transition. It returns
// the produced children on success, a single synthesized error document on
// processor or persistence failure, and (nil, nil) when the document's state
// has no outgoing transition. Cancellation surfaces as an error without an
// error document.
func (e *Engine) step(ctx context.Context, typ *document.Type, doc *document.Document) ([]*document.Document, error) {
	transitions := typ.TransitionsFrom(doc.State)
	if len(transitions) == 0 {
		e.metrics.ObserveTransition(doc.State, "", "no_successor", 0)
		return nil, nil
	}
	tr := transitions[0]

	e.emitter.Emit(emit.Event{
		DocID: doc.ID,
		State: doc.State,
		Msg:   "transition_start",
		Meta: map[string]any{
			"transition_to": tr.To.Name,
			"processor":     tr.Process.Name(),
		},
	})
	e.metrics.IncInflight()
	start := time.Now()

	children, err := e.attempt(ctx, tr, doc)
	elapsed := time.Since(start)
	e.metrics.DecInflight()

	if err == nil {
		e.emitter.Emit(emit.Event{
			DocID: doc.ID,
			State: doc.State,
			Msg:   "transition_complete",
			Meta: map[string]any{
				"transition_to": tr.To.Name,
				"processor":     tr.Process.Name(),
				"children":      len(children),
				"duration_ms":   elapsed.Milliseconds(),
			},
		})
		e.metrics.ObserveTransition(doc.State, tr.To.Name, "success", elapsed)
		for _, c := range children {
			e.metrics.AddDocumentsCreated(c.State, 1)
		}
		return children, nil
	}

	kind := KindPersistenceFailure
	var se *stepError
	if errors.As(err, &se) {
		kind = se.kind
	}

	e.emitter.Emit(emit.Event{
		DocID: doc.ID,
		State: doc.State,
		Msg:   "transition_error",
		Meta: map[string]any{
			"transition_to": tr.To.Name,
			"processor":     tr.Process.Name(),
			"duration_ms":   elapsed.Milliseconds(),
			"error":         err.Error(),
			"error_type":    kind,
		},
	})
	e.metrics.ObserveTransition(doc.State, tr.To.Name, "error", elapsed)

	// Cancellation is not a document failure. Nothing to record, the caller
	// asked us to stop.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	errDoc, werr := e.writeErrorDocument(ctx, tr, doc, kind, err)
	if werr != nil {
		e.logger.WithError(werr).WithField("doc_id", doc.ID).
			Warn("failed to persist error document")
		return nil, werr
	}
	e.metrics.IncErrorDocuments(doc.State)
	e.metrics.AddDocumentsCreated(errDoc.State, 1)
	return []*document.Document{errDoc}, nil
}

// attempt runs the processor and persists its outputs inside one store
// transaction. Either everything the processor produced is stored, or
// nothing is.
func (e *Engine) attempt(ctx context.Context, tr document.Transition, doc *document.Document) ([]*document.Document, error) {
	var children []*document.Document
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		out, perr := invokeProcessor(ctx, tr, doc)
		if perr != nil {
			return perr
		}

		children = children[:0]
		for _, c := range out {
			if c == nil {
				continue
			}
			c.ParentID = doc.ID
			if c.State == "" {
				c.State = tr.To.Name
			}
			c.ApplyDefaults()
			children = append(children, c)
		}
		if len(children) == 0 {
			return nil
		}

		ids, aerr := tx.Add(ctx, children...)
		if aerr != nil {
			return &stepError{kind: KindPersistenceFailure, err: aerr}
		}

		// Refresh the in-memory parent snapshot from the transaction's view
		// so pre-existing children are not lost.
		if refreshed, gerr := tx.Get(ctx, doc.ID); gerr == nil {
			doc.AddChildren(refreshed.Children...)
		} else {
			doc.AddChildren(ids...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// invokeProcessor calls the transition's processor with panics converted
// into processor failures.
func invokeProcessor(ctx context.Context, tr document.Transition, doc *document.Document) (out []*document.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &stepError{
				kind: KindProcessorPanic,
				err:  fmt.Errorf("processor %s panicked: %v", tr.Process.Name(), r),
			}
		}
	}()
	out, perr := tr.Process.Process(ctx, doc)
	if perr != nil {
		return nil, &stepError{kind: KindProcessorFailure, err: perr}
	}
	return out, nil
}

// writeErrorDocument persists the error record for a failed transition in
// its own short transaction; the failed transition already rolled back.
func (e *Engine) writeErrorDocument(ctx context.Context, tr document.Transition, doc *document.Document, kind string, cause error) (*document.Document, error) {
	errDoc := document.New(e.errorState)
	errDoc.ParentID = doc.ID
	errDoc.MediaType = "application/json"
	errDoc.Content = cause.Error()
	errDoc.Metadata = map[string]any{
		document.MetaError:             cause.Error(),
		document.MetaErrorType:         kind,
		document.MetaTransitionFrom:    doc.State,
		document.MetaTransitionTo:      tr.To.Name,
		document.MetaOriginalMediaType: doc.MediaType,
		document.MetaTimestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		document.MetaProcessFunction:   tr.Process.Name(),
	}

	if _, err := e.store.Add(ctx, errDoc); err != nil {
		return nil, err
	}
	doc.AddChildren(errDoc.ID)
	return errDoc, nil
}

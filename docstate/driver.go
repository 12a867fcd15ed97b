package docstate

import (
	"context"
	"errors"

	"github.com/tvaroska/docstate-go/docstate/document"
	"github.com/tvaroska/docstate-go/docstate/emit"
	"github.com/tvaroska/docstate-go/docstate/store"
)

// Finish drives the given documents until every line of descent reaches a
// terminal state: a state with no outgoing transition, or the engine's error
// state. It returns all documents currently in terminal states, error
// documents included.
//
// Inputs that are not yet stored are inserted first. While Finish is
// running, SetType fails with ErrBusy.
func (e *Engine) Finish(ctx context.Context, docs ...*document.Document) ([]*document.Document, error) {
	typ, err := e.boundType()
	if err != nil {
		return nil, err
	}

	e.active.Add(1)
	defer e.active.Add(-1)

	e.emitter.Emit(emit.Event{Msg: "finish_start", Meta: map[string]any{"size": len(docs)}})

	working, err := e.ensureStored(ctx, docs)
	if err != nil {
		return nil, err
	}

	terminal := e.terminalStates(typ)

	for len(working) > 0 {
		pending := working[:0]
		for _, doc := range working {
			if _, done := terminal[doc.State]; !done {
				pending = append(pending, doc)
			}
		}
		if len(pending) == 0 {
			break
		}

		produced, err := e.Next(ctx, pending...)
		if err != nil {
			return nil, err
		}
		working = produced
	}

	names := typ.FinalStateNames()
	errorIsFinal := false
	for _, s := range names {
		if s == e.errorState {
			errorIsFinal = true
			break
		}
	}
	if !errorIsFinal {
		names = append(names, e.errorState)
	}

	final, err := e.store.ListStates(ctx, names)
	if err != nil {
		return nil, err
	}

	e.emitter.Emit(emit.Event{Msg: "finish_complete", Meta: map[string]any{"terminal": len(final)}})
	return final, nil
}

// terminalStates builds the terminal set: states without outgoing
// transitions plus the engine's error state.
func (e *Engine) terminalStates(typ *document.Type) map[string]struct{} {
	set := make(map[string]struct{})
	for _, name := range typ.FinalStateNames() {
		set[name] = struct{}{}
	}
	set[e.errorState] = struct{}{}
	return set
}

// ensureStored makes every input document durable before the run starts, so
// a crash mid-pipeline never loses the inputs. Already-stored documents are
// left untouched.
func (e *Engine) ensureStored(ctx context.Context, docs []*document.Document) ([]*document.Document, error) {
	working := make([]*document.Document, 0, len(docs))
	var missing []*document.Document
	for _, doc := range docs {
		if doc == nil {
			e.logger.Warn("skipping nil document")
			continue
		}
		working = append(working, doc)

		if doc.ID != "" {
			_, err := e.store.GetNoContent(ctx, doc.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
		missing = append(missing, doc)
	}

	if len(missing) > 0 {
		if _, err := e.store.Add(ctx, missing...); err != nil {
			return nil, err
		}
		for _, doc := range missing {
			e.metrics.AddDocumentsCreated(doc.State, 1)
		}
	}
	return working, nil
}

package document

import "context"

// Processor performs the work of a single transition. The engine invokes it
// with the document being advanced and persists whatever it returns as child
// documents of that input.
//
// Contract for implementations:
//   - Return zero or more documents whose State is the transition's target
//     state; the engine does not rewrite states.
//   - Do not mutate the input document and do not write to the store; the
//     engine owns persistence, including ParentID and id assignment on the
//     returned documents.
//   - A nil slice with a nil error means "no children" and is not a failure.
//   - A returned error aborts the step and is recorded as an error document;
//     context cancellation errors are passed through instead.
type Processor interface {
	// Name identifies the processor in events and in the process_function
	// metadata key of error documents.
	Name() string

	// Process transforms doc into its successor documents.
	Process(ctx context.Context, doc *Document) ([]*Document, error)
}

// ProcessorFunc adapts a plain function to the Processor interface, pairing
// it with the name reported on error documents.
//
// Example:
//
//	upper := document.ProcessorFunc("upper", func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
//	    out := document.New("done")
//	    out.Content = strings.ToUpper(doc.Content)
//	    return []*document.Document{out}, nil
//	})
func ProcessorFunc(name string, fn func(ctx context.Context, doc *Document) ([]*Document, error)) Processor {
	return &funcProcessor{name: name, fn: fn}
}

type funcProcessor struct {
	name string
	fn   func(ctx context.Context, doc *Document) ([]*Document, error)
}

func (p *funcProcessor) Name() string { return p.name }

func (p *funcProcessor) Process(ctx context.Context, doc *Document) ([]*Document, error) {
	return p.fn(ctx, doc)
}

// Package document defines the value types shared by the docstate engine and
// its persistence backends: the Document record, pipeline states and
// transitions, the immutable document Type, and the Processor contract that
// user code implements to perform the work of a transition.
package document

import "github.com/google/uuid"

// DefaultMediaType is applied to documents created without an explicit
// media type.
const DefaultMediaType = "text/plain"

// Reserved metadata keys carried by error documents. A failed transition
// produces a child document whose metadata contains all of them; regular
// documents should not use these keys.
const (
	MetaError             = "error"
	MetaErrorType         = "error_type"
	MetaTransitionFrom    = "transition_from"
	MetaTransitionTo      = "transition_to"
	MetaOriginalMediaType = "original_media_type"
	MetaTimestamp         = "timestamp"
	MetaProcessFunction   = "process_function"
)

// ReservedMetaKeys returns the metadata keys reserved for error documents.
func ReservedMetaKeys() []string {
	return []string{
		MetaError,
		MetaErrorType,
		MetaTransitionFrom,
		MetaTransitionTo,
		MetaOriginalMediaType,
		MetaTimestamp,
		MetaProcessFunction,
	}
}

// Document is the unit of work moving through a pipeline.
//
// A document is immutable once stored: processing it never updates the row,
// it creates child documents whose ParentID points back at it. The parent
// stays behind as an audit record.
//
// Fields:
//   - ID: globally unique; assigned on creation or on first insert when empty
//   - State: current pipeline state name; never empty for a stored document
//   - Content: payload; "" and SQL NULL are equivalent
//   - MediaType: defaults to "text/plain"
//   - URL: optional source location
//   - ParentID: lineage edge; empty for root documents
//   - Metadata: JSON-valued annotations; values survive a JSON round trip,
//     so numbers read back as float64 regardless of how they were written
//   - Children: ids of direct children; populated by store reads only and
//     never persisted as a column
type Document struct {
	ID        string
	State     string
	Content   string
	MediaType string
	URL       string
	ParentID  string
	Metadata  map[string]any
	Children  []string
}

// New returns a document in the given state with a fresh id, the default
// media type, and empty metadata.
func New(state string) *Document {
	return &Document{
		ID:        uuid.NewString(),
		State:     state,
		MediaType: DefaultMediaType,
		Metadata:  map[string]any{},
	}
}

// ApplyDefaults assigns a fresh id and the default media type where missing.
// Stores call this on insert so that documents built as plain literals are
// legal inputs.
func (d *Document) ApplyDefaults() {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.MediaType == "" {
		d.MediaType = DefaultMediaType
	}
}

// IsRoot reports whether the document has no parent.
func (d *Document) IsRoot() bool {
	return d.ParentID == ""
}

// HasChildren reports whether the populated children view is non-empty.
// It is meaningful only on documents returned by a store read; the field is
// derived, not stored.
func (d *Document) HasChildren() bool {
	return len(d.Children) > 0
}

// AddChildren appends the given ids to the in-memory children view, skipping
// empties and duplicates while preserving order. It does not touch the store;
// lineage is persisted through ParentID on the children themselves.
func (d *Document) AddChildren(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		seen := false
		for _, c := range d.Children {
			if c == id {
				seen = true
				break
			}
		}
		if !seen {
			d.Children = append(d.Children, id)
		}
	}
}

package emit

import "sync"

// BufferedEmitter stores events in memory, keyed by document id, and offers
// filtered retrieval. Intended for tests, debugging, and post-run analysis;
// memory grows with event volume, so it is not meant for unbounded
// production runs.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events from a document's history. Empty fields do
// not filter; set fields combine with AND.
type HistoryFilter struct {
	State string // pipeline state at emission time
	Msg   string // event name, e.g. "transition_error"
}

// NewBufferedEmitter creates an empty in-memory event buffer.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event under its document id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.DocID] = append(b.events[event.DocID], event)
}

// History returns all events for a document in emission order. The result is
// a copy; mutating it does not affect the buffer.
func (b *BufferedEmitter) History(docID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[docID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the document's events matching the filter, in
// emission order.
func (b *BufferedEmitter) HistoryWithFilter(docID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[docID] {
		if filter.State != "" && event.State != filter.State {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear removes the events of one document, or every event when docID is
// empty.
func (b *BufferedEmitter) Clear(docID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if docID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, docID)
	}
}

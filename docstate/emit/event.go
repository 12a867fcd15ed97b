// Package emit provides pluggable observability for the docstate engine.
// Every transition attempt, success, and failure is reported as an Event to
// an Emitter; implementations range from discarding (NullEmitter) over
// structured logs (LogEmitter) and in-memory capture (BufferedEmitter) to
// OpenTelemetry spans (OTelEmitter).
package emit

// Event is one observation from a pipeline run.
type Event struct {
	// DocID identifies the document whose transition produced the event.
	// Empty for batch-level events.
	DocID string

	// State is the document's pipeline state at the time of the event.
	State string

	// Msg names the event. The engine emits:
	//   - "transition_start", "transition_complete", "transition_error"
	//   - "batch_start", "batch_complete"
	//   - "finish_start", "finish_complete"
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "transition_to": target state of the attempted transition
	//   - "processor": name of the processor that ran
	//   - "children": number of documents produced
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": failure message
	//   - "error_type": symbolic failure kind
	Meta map[string]any
}

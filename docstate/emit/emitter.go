package emit

// Emitter receives observability events from pipeline execution.
//
// Implementations must be safe for concurrent use: executors running in
// parallel emit independently. They should not block transition execution
// and must not panic; backend failures are handled internally.
type Emitter interface {
	Emit(event Event)
}

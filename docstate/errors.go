package docstate

import "errors"

// ErrBusy is returned by SetType while a Finish run is active; the document
// type and its derived caches are immutable for the duration of a run.
var ErrBusy = errors.New("pipeline run active")

// ErrNoType is returned by Next and Finish when no document type is bound to
// the engine.
var ErrNoType = errors.New("no document type bound")

// Symbolic failure kinds recorded in the error_type metadata key of error
// documents.
const (
	KindProcessorFailure   = "ProcessorFailure"
	KindProcessorPanic     = "ProcessorPanic"
	KindPersistenceFailure = "PersistenceFailure"
)

// PipelineError is a coded engine failure. Code is stable and machine
// checkable; Message is for humans.
type PipelineError struct {
	Message string
	Code    string
}

func (e *PipelineError) Error() string {
	return e.Message
}

// Unwrap maps codes back to the package sentinels so callers can use
// errors.Is.
func (e *PipelineError) Unwrap() error {
	switch e.Code {
	case "BUSY":
		return ErrBusy
	case "NO_TYPE":
		return ErrNoType
	default:
		return nil
	}
}

package docstate

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tvaroska/docstate-go/docstate/document"
	"github.com/tvaroska/docstate-go/docstate/emit"
	"github.com/tvaroska/docstate-go/docstate/store"
)

// DefaultErrorState is the state name of synthesized error documents.
const DefaultErrorState = "error"

// DefaultMaxConcurrency bounds parallel transition executors when no
// explicit cap is configured.
const DefaultMaxConcurrency = 10

// Option configures an Engine at construction time.
//
// Example:
//
//	engine, err := docstate.Open(ctx, "sqlite://pipeline.db",
//	    docstate.WithType(docType),
//	    docstate.WithMaxConcurrency(4),
//	    docstate.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*config) error

type config struct {
	typ            *document.Type
	errorState     string
	maxConcurrency int
	emitter        emit.Emitter
	logger         logrus.FieldLogger
	metrics        *Metrics
	storeOpts      []store.Option
}

func newConfig(opts []Option) (config, error) {
	cfg := config{
		errorState:     DefaultErrorState,
		maxConcurrency: DefaultMaxConcurrency,
		emitter:        emit.NewNullEmitter(),
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

// WithType binds the initial document type. The type may also be bound or
// replaced later with Engine.SetType.
func WithType(t *document.Type) Option {
	return func(cfg *config) error {
		cfg.typ = t
		return nil
	}
}

// WithErrorState overrides the state name used for synthesized error
// documents (default "error"). The engine always treats this state as
// terminal.
func WithErrorState(name string) Option {
	return func(cfg *config) error {
		if name == "" {
			return &PipelineError{Message: "error state name must not be empty", Code: "BAD_OPTION"}
		}
		cfg.errorState = name
		return nil
	}
}

// WithMaxConcurrency sets the upper bound on parallel transition executors
// (default 10, minimum 1).
func WithMaxConcurrency(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return &PipelineError{Message: fmt.Sprintf("max concurrency must be at least 1, got %d", n), Code: "BAD_OPTION"}
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithEmitter sets the observability sink for transition events. The default
// discards all events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *config) error {
		if e != nil {
			cfg.emitter = e
		}
		return nil
	}
}

// WithLogger sets the logger for operational warnings (skipped inputs,
// error-document write failures). The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cfg *config) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection. A nil bundle disables
// recording.
//
//	registry := prometheus.NewRegistry()
//	engine, err := docstate.New(st,
//	    docstate.WithMetrics(docstate.NewMetrics(registry)),
//	)
func WithMetrics(m *Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}

// WithPoolSize sets the idle connection count of the backend pool. Only
// effective with Open; New over a caller-owned store ignores it.
func WithPoolSize(n int) Option {
	return func(cfg *config) error {
		cfg.storeOpts = append(cfg.storeOpts, store.WithPoolSize(n))
		return nil
	}
}

// WithMaxOverflow sets how many connections beyond the pool size the backend
// may open under load. Only effective with Open.
func WithMaxOverflow(n int) Option {
	return func(cfg *config) error {
		cfg.storeOpts = append(cfg.storeOpts, store.WithMaxOverflow(n))
		return nil
	}
}

// WithPoolRecycle caps the lifetime of pooled connections. Only effective
// with Open.
func WithPoolRecycle(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.storeOpts = append(cfg.storeOpts, store.WithPoolRecycle(d))
		return nil
	}
}

// WithPoolTimeout bounds how long the backend waits for the database on
// open. Only effective with Open.
func WithPoolTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.storeOpts = append(cfg.storeOpts, store.WithPoolTimeout(d))
		return nil
	}
}

// WithEcho enables SQL statement tracing on the backend. Only effective with
// Open.
func WithEcho(on bool) Option {
	return func(cfg *config) error {
		cfg.storeOpts = append(cfg.storeOpts, store.WithEcho(on))
		return nil
	}
}

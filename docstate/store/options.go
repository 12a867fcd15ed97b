package store

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a store backend at construction time.
type Option func(*config)

// config collects backend tuning before it is applied.
type config struct {
	echo        bool
	logger      logrus.FieldLogger
	poolSize    int
	maxOverflow int
	poolRecycle time.Duration
	poolTimeout time.Duration
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:      logrus.StandardLogger(),
		poolSize:    5,
		maxOverflow: 10,
		poolRecycle: 30 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// busyTimeoutMillis maps the pool timeout onto SQLite's busy_timeout pragma.
func (c config) busyTimeoutMillis() int {
	if c.poolTimeout <= 0 {
		return 5000
	}
	return int(c.poolTimeout / time.Millisecond)
}

// maxElapsed bounds the connect/ping retry loop of the MySQL backend.
func (c config) maxElapsed() time.Duration {
	if c.poolTimeout <= 0 {
		return 30 * time.Second
	}
	return c.poolTimeout
}

// WithEcho enables SQL statement tracing through the configured logger.
func WithEcho(on bool) Option {
	return func(c *config) {
		c.echo = on
	}
}

// WithLogger sets the logger used for statement traces and connect retries.
// The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPoolSize sets the number of idle connections kept by SQL backends.
func WithPoolSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithMaxOverflow sets how many connections beyond the pool size may be
// opened under load. Open connections are capped at pool size + overflow.
func WithMaxOverflow(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxOverflow = n
		}
	}
}

// WithPoolRecycle caps the lifetime of a pooled connection.
func WithPoolRecycle(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.poolRecycle = d
		}
	}
}

// WithPoolTimeout bounds how long the backend waits for the database: the
// connect/ping retry window on MySQL, the busy timeout on SQLite.
func WithPoolTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.poolTimeout = d
		}
	}
}

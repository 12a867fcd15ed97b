package process

import (
	"context"
	"sync"
	"time"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// Mock is a configurable processor for tests and examples: it fans out a
// fixed number of children, optionally fails or sleeps, and records every
// invocation.
//
//	mock := &process.Mock{TargetState: "done", Fanout: 2}
//	...
//	if mock.CallCount() != 3 { ... }
type Mock struct {
	// ProcessorName is reported by Name; "mock" when empty.
	ProcessorName string

	// TargetState is the state of produced children.
	TargetState string

	// Fanout is the number of children produced per call; 1 when zero.
	Fanout int

	// Err, if set, is returned instead of children.
	Err error

	// Delay is slept before producing output, for concurrency tests.
	Delay time.Duration

	// Transform, if set, fills in each produced child given the input and
	// the child's index. The child already has TargetState and a fresh id.
	Transform func(doc *document.Document, child *document.Document, index int)

	mu    sync.Mutex
	calls []*document.Document
}

// Name implements document.Processor.
func (m *Mock) Name() string {
	if m.ProcessorName == "" {
		return "mock"
	}
	return m.ProcessorName
}

// Process implements document.Processor.
func (m *Mock) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	m.mu.Lock()
	m.calls = append(m.calls, doc)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	fanout := m.Fanout
	if fanout == 0 {
		fanout = 1
	}
	out := make([]*document.Document, 0, fanout)
	for i := 0; i < fanout; i++ {
		child := document.New(m.TargetState)
		child.Content = doc.Content
		if m.Transform != nil {
			m.Transform(doc, child, i)
		}
		out = append(out, child)
	}
	return out, nil
}

// CallCount returns how many times Process has been invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the documents Process was invoked with, in call order.
func (m *Mock) Calls() []*document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*document.Document(nil), m.calls...)
}

// Reset clears the recorded call history.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

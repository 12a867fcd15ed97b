package docstate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tvaroska/docstate-go/docstate/document"
)

func TestNext_BatchFlattensResults(t *testing.T) {
	ctx := context.Background()

	download := document.State{Name: "download"}
	chunk := document.State{Name: "chunk"}
	typ, err := document.NewType(
		[]document.State{download, chunk},
		[]document.Transition{{
			From: download,
			To:   chunk,
			Process: document.ProcessorFunc("split", func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
				var out []*document.Document
				for i := 0; i < 2; i++ {
					c := document.New("chunk")
					c.Content = fmt.Sprintf("%s/%d", doc.Content, i)
					out = append(out, c)
				}
				return out, nil
			}),
		}},
	)
	if err != nil {
		t.Fatalf("NewType failed: %v", err)
	}

	eng := newTestEngine(t, WithType(typ))
	var docs []*document.Document
	for i := 0; i < 4; i++ {
		d := document.New("download")
		d.Content = fmt.Sprintf("doc%d", i)
		docs = append(docs, d)
	}
	if _, err := eng.Add(ctx, docs...); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	children, err := eng.Next(ctx, docs...)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(children) != 8 {
		t.Fatalf("got %d children, want 8", len(children))
	}

	// Intra-executor order survives flattening: for every parent, chunk /0
	// appears before chunk /1.
	seen := map[string]int{}
	for i, c := range children {
		seen[c.Content] = i
	}
	for i := 0; i < 4; i++ {
		first, second := fmt.Sprintf("doc%d/0", i), fmt.Sprintf("doc%d/1", i)
		if seen[first] > seen[second] {
			t.Errorf("chunk order inverted for doc%d: %d > %d", i, seen[first], seen[second])
		}
	}
}

func TestNext_SkipsNilDocuments(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, WithType(twoStateType(t)))

	doc := document.New("link")
	if _, err := eng.Add(ctx, doc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	children, err := eng.Next(ctx, nil, doc, nil)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(children) != 1 {
		t.Errorf("got %d children, want 1", len(children))
	}
}

func TestNext_AllNilInputs(t *testing.T) {
	eng := newTestEngine(t, WithType(twoStateType(t)))
	children, err := eng.Next(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("got %d children, want 0", len(children))
	}
}

func TestNext_FailureIsolation(t *testing.T) {
	ctx := context.Background()

	link := document.State{Name: "link"}
	done := document.State{Name: "done"}
	typ, err := document.NewType(
		[]document.State{link, done},
		[]document.Transition{{
			From: link,
			To:   done,
			Process: document.ProcessorFunc("picky", func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
				if doc.Content == "bad" {
					return nil, errors.New("cannot process")
				}
				out := document.New("done")
				out.Content = doc.Content
				return []*document.Document{out}, nil
			}),
		}},
	)
	if err != nil {
		t.Fatalf("NewType failed: %v", err)
	}

	eng := newTestEngine(t, WithType(typ))
	good1 := document.New("link")
	good1.Content = "ok-1"
	bad := document.New("link")
	bad.Content = "bad"
	good2 := document.New("link")
	good2.Content = "ok-2"
	if _, err := eng.Add(ctx, good1, bad, good2); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	children, err := eng.Next(ctx, good1, bad, good2)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("got %d children, want 2 successes + 1 error document", len(children))
	}

	var successes, errDocs int
	for _, c := range children {
		switch c.State {
		case "done":
			successes++
		case "error":
			errDocs++
			if c.ParentID != bad.ID {
				t.Errorf("error doc parent = %q, want %q", c.ParentID, bad.ID)
			}
		default:
			t.Errorf("unexpected child state %q", c.State)
		}
	}
	if successes != 2 || errDocs != 1 {
		t.Errorf("got %d successes and %d error docs, want 2 and 1", successes, errDocs)
	}
}

func TestNext_BoundedConcurrency(t *testing.T) {
	ctx := context.Background()

	var inflight, peak atomic.Int32
	link := document.State{Name: "link"}
	done := document.State{Name: "done"}
	typ, err := document.NewType(
		[]document.State{link, done},
		[]document.Transition{{
			From: link,
			To:   done,
			Process: document.ProcessorFunc("slow", func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
				n := inflight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inflight.Add(-1)
				return []*document.Document{document.New("done")}, nil
			}),
		}},
	)
	if err != nil {
		t.Fatalf("NewType failed: %v", err)
	}

	eng := newTestEngine(t, WithType(typ), WithMaxConcurrency(2))
	var docs []*document.Document
	for i := 0; i < 10; i++ {
		docs = append(docs, document.New("link"))
	}
	if _, err := eng.Add(ctx, docs...); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	children, err := eng.Next(ctx, docs...)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(children) != 10 {
		t.Errorf("got %d children, want 10", len(children))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

func TestNext_CancelStopsQueuedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	link := document.State{Name: "link"}
	done := document.State{Name: "done"}
	typ, err := document.NewType(
		[]document.State{link, done},
		[]document.Transition{{
			From: link,
			To:   done,
			Process: document.ProcessorFunc("slow", func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
				started.Add(1)
				cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		}},
	)
	if err != nil {
		t.Fatalf("NewType failed: %v", err)
	}

	eng := newTestEngine(t, WithType(typ), WithMaxConcurrency(1))
	var docs []*document.Document
	for i := 0; i < 5; i++ {
		docs = append(docs, document.New("link"))
	}
	if _, err := eng.Add(context.Background(), docs...); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, err = eng.Next(ctx, docs...)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Next err = %v, want context.Canceled", err)
	}
	if n := started.Load(); n != 1 {
		t.Errorf("%d processors started after cancellation, want 1", n)
	}
}

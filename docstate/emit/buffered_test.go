package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_HistoryPerDocument(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{DocID: "a", State: "link", Msg: "transition_start"})
	emitter.Emit(Event{DocID: "a", State: "link", Msg: "transition_complete"})
	emitter.Emit(Event{DocID: "b", State: "raw", Msg: "transition_start"})

	history := emitter.History("a")
	if len(history) != 2 {
		t.Fatalf("expected 2 events for doc a, got %d", len(history))
	}
	if history[0].Msg != "transition_start" || history[1].Msg != "transition_complete" {
		t.Errorf("emission order lost: %v", history)
	}

	if got := emitter.History("missing"); len(got) != 0 {
		t.Errorf("expected empty history for unknown doc, got %v", got)
	}
}

func TestBufferedEmitter_HistoryWithFilter(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{DocID: "a", State: "link", Msg: "transition_start"})
	emitter.Emit(Event{DocID: "a", State: "link", Msg: "transition_error"})
	emitter.Emit(Event{DocID: "a", State: "download", Msg: "transition_start"})

	errs := emitter.HistoryWithFilter("a", HistoryFilter{Msg: "transition_error"})
	if len(errs) != 1 || errs[0].State != "link" {
		t.Errorf("error filter = %v", errs)
	}

	link := emitter.HistoryWithFilter("a", HistoryFilter{State: "link"})
	if len(link) != 2 {
		t.Errorf("state filter returned %d events, want 2", len(link))
	}

	both := emitter.HistoryWithFilter("a", HistoryFilter{State: "download", Msg: "transition_start"})
	if len(both) != 1 {
		t.Errorf("combined filter returned %d events, want 1", len(both))
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{DocID: "a", Msg: "x"})
	emitter.Emit(Event{DocID: "b", Msg: "y"})

	emitter.Clear("a")
	if len(emitter.History("a")) != 0 {
		t.Error("expected doc a history cleared")
	}
	if len(emitter.History("b")) != 1 {
		t.Error("expected doc b history untouched")
	}

	emitter.Clear("")
	if len(emitter.History("b")) != 0 {
		t.Error("expected all history cleared")
	}
}

func TestBufferedEmitter_ConcurrentEmit(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				emitter.Emit(Event{DocID: fmt.Sprintf("doc-%d", i%2), Msg: "transition_start"})
			}
		}(i)
	}
	wg.Wait()

	total := len(emitter.History("doc-0")) + len(emitter.History("doc-1"))
	if total != 500 {
		t.Errorf("expected 500 events total, got %d", total)
	}
}

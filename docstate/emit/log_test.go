package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		DocID: "doc-1",
		State: "link",
		Msg:   "transition_start",
		Meta:  map[string]any{"transition_to": "download"},
	})

	line := buf.String()
	if !strings.HasPrefix(line, "[transition_start] doc=doc-1 state=link") {
		t.Errorf("unexpected text output: %q", line)
	}
	if !strings.Contains(line, `"transition_to":"download"`) {
		t.Errorf("meta missing from text output: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("expected trailing newline")
	}
}

func TestLogEmitter_TextWithoutMeta(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{DocID: "doc-1", State: "link", Msg: "transition_start"})

	if got, want := buf.String(), "[transition_start] doc=doc-1 state=link\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		DocID: "doc-2",
		State: "raw",
		Msg:   "transition_complete",
		Meta:  map[string]any{"children": 3},
	})

	var decoded struct {
		DocID string         `json:"docID"`
		State string         `json:"state"`
		Msg   string         `json:"msg"`
		Meta  map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded.DocID != "doc-2" || decoded.State != "raw" || decoded.Msg != "transition_complete" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Meta["children"] != float64(3) {
		t.Errorf("meta children = %v, want 3", decoded.Meta["children"])
	}
}

func TestLogEmitter_NilWriterDefaultsToStdout(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	if emitter.writer == nil {
		t.Error("expected a default writer")
	}
}

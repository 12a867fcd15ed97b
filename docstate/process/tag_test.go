package process

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tvaroska/docstate-go/docstate/document"
)

type fakeTagClient struct {
	tags  []string
	err   error
	calls []string
}

func (f *fakeTagClient) tag(ctx context.Context, content string) ([]string, error) {
	f.calls = append(f.calls, content)
	if f.err != nil {
		return nil, f.err
	}
	return f.tags, nil
}

func TestTagger_Success(t *testing.T) {
	fake := &fakeTagClient{tags: []string{"go", "pipelines"}}
	tg := NewTagger("key", "", "tagged")
	tg.client = fake

	doc := document.New("download")
	doc.Content = "An article about Go pipelines."
	doc.MediaType = "text/markdown"

	out, err := tg.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d children, want 1", len(out))
	}

	child := out[0]
	if child.State != "tagged" {
		t.Errorf("state = %q, want tagged", child.State)
	}
	if child.Content != doc.Content {
		t.Errorf("content = %q, want the parent content", child.Content)
	}
	if child.MediaType != "text/markdown" {
		t.Errorf("media type = %q", child.MediaType)
	}
	if got, ok := child.Metadata["tags"].([]string); !ok || !reflect.DeepEqual(got, []string{"go", "pipelines"}) {
		t.Errorf("tags = %v", child.Metadata["tags"])
	}
	if child.Metadata["tag_model"] != DefaultTagModel {
		t.Errorf("tag_model = %v", child.Metadata["tag_model"])
	}

	if len(fake.calls) != 1 || fake.calls[0] != doc.Content {
		t.Errorf("client calls = %v", fake.calls)
	}
}

func TestTagger_EmptyContent(t *testing.T) {
	tg := NewTagger("key", "", "tagged")
	tg.client = &fakeTagClient{}
	if _, err := tg.Process(context.Background(), document.New("download")); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestTagger_ClientError(t *testing.T) {
	tg := NewTagger("key", "", "tagged")
	tg.client = &fakeTagClient{err: errors.New("rate limited")}

	doc := document.New("download")
	doc.Content = "text"
	if _, err := tg.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error from failing client")
	}
}

func TestTagger_MissingAPIKey(t *testing.T) {
	tg := NewTagger("", "", "tagged")
	doc := document.New("download")
	doc.Content = "text"
	if _, err := tg.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error without api key")
	}
}

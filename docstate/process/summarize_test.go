package process

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tvaroska/docstate-go/docstate/document"
)

type fakeMessageClient struct {
	reply string
	err   error
	calls []string
}

func (f *fakeMessageClient) complete(ctx context.Context, prompt string) (string, error) {
	f.calls = append(f.calls, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestSummarizer_Success(t *testing.T) {
	fake := &fakeMessageClient{reply: "  A short summary.  "}
	s := NewSummarizer("key", "claude-3-5-haiku-latest", "summary")
	s.client = fake

	doc := document.New("download")
	doc.Content = "A very long article about pipelines."
	doc.Metadata["source_url"] = "https://example.com"

	out, err := s.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d children, want 1", len(out))
	}

	child := out[0]
	if child.State != "summary" {
		t.Errorf("state = %q, want summary", child.State)
	}
	if child.Content != "A short summary." {
		t.Errorf("content = %q, want trimmed summary", child.Content)
	}
	if child.Metadata["summary_model"] != "claude-3-5-haiku-latest" {
		t.Errorf("summary_model = %v", child.Metadata["summary_model"])
	}
	if child.Metadata["source_url"] != "https://example.com" {
		t.Error("parent metadata not inherited")
	}

	if len(fake.calls) != 1 {
		t.Fatalf("client called %d times, want 1", len(fake.calls))
	}
	if !strings.Contains(fake.calls[0], doc.Content) {
		t.Error("prompt does not contain the document content")
	}
}

func TestSummarizer_EmptyContent(t *testing.T) {
	s := NewSummarizer("key", "", "summary")
	s.client = &fakeMessageClient{reply: "x"}
	if _, err := s.Process(context.Background(), document.New("download")); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestSummarizer_ClientError(t *testing.T) {
	s := NewSummarizer("key", "", "summary")
	s.client = &fakeMessageClient{err: errors.New("overloaded")}

	doc := document.New("download")
	doc.Content = "text"
	if _, err := s.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error from failing client")
	}
}

func TestSummarizer_MissingAPIKey(t *testing.T) {
	s := NewSummarizer("", "", "summary")
	doc := document.New("download")
	doc.Content = "text"
	if _, err := s.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error without api key")
	}
}

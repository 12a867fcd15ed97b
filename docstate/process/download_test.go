package process

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tvaroska/docstate-go/docstate/document"
)

func TestDownload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer server.Close()

	dl := NewDownload("download", nil)
	doc := document.New("link")
	doc.URL = server.URL

	out, err := dl.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d children, want 1", len(out))
	}

	child := out[0]
	if child.State != "download" {
		t.Errorf("state = %q, want download", child.State)
	}
	if child.Content != "<html>hello</html>" {
		t.Errorf("content = %q", child.Content)
	}
	if child.MediaType != "text/html" {
		t.Errorf("media type = %q, want text/html", child.MediaType)
	}
	if child.URL != server.URL {
		t.Errorf("url = %q, want %q", child.URL, server.URL)
	}

	meta := child.Metadata
	if meta["source_url"] != server.URL {
		t.Errorf("source_url = %v", meta["source_url"])
	}
	if meta["status_code"] != http.StatusOK {
		t.Errorf("status_code = %v, want 200", meta["status_code"])
	}
	if meta["content_length"] != len("<html>hello</html>") {
		t.Errorf("content_length = %v", meta["content_length"])
	}
}

func TestDownload_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	dl := NewDownload("download", nil)
	doc := document.New("link")
	doc.URL = server.URL

	if _, err := dl.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error for 410 response")
	}
}

func TestDownload_MissingURL(t *testing.T) {
	dl := NewDownload("download", nil)
	if _, err := dl.Process(context.Background(), document.New("link")); err == nil {
		t.Fatal("expected error for document without url")
	}
}

func TestDownload_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := NewDownload("download", nil)
	doc := document.New("link")
	doc.URL = server.URL
	if _, err := dl.Process(ctx, doc); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// Package process is a library of ready-made processors for common pipeline
// stages: fetching documents over HTTP, splitting them into chunks, and
// annotating them through LLM providers (Gemini embeddings, Claude
// summaries, OpenAI tags). Each processor implements document.Processor and
// is wired into a pipeline as the Process of a transition.
//
// The LLM-backed processors talk to their SDK through a small unexported
// client interface, so tests substitute a fake without touching the network.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// maxDownloadBytes caps how much of a response body is read into a document.
const maxDownloadBytes = 32 << 20

// Download fetches doc.URL over HTTP and produces one child document in the
// target state containing the response body.
//
// Child metadata: source_url, status_code, content_type, content_length.
// The child's media type follows the response Content-Type header.
type Download struct {
	state  string
	client *http.Client
}

// NewDownload builds a Download processor emitting children in targetState.
// A nil client uses a default with a 30 second timeout.
func NewDownload(targetState string, client *http.Client) *Download {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Download{state: targetState, client: client}
}

// Name implements document.Processor.
func (d *Download) Name() string { return "download" }

// Process implements document.Processor.
func (d *Download) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	if doc.URL == "" {
		return nil, errors.New("document has no url to download")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", doc.URL, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", doc.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", doc.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", doc.URL, err)
	}

	out := document.New(d.state)
	out.Content = string(body)
	out.URL = doc.URL
	if mt := contentMediaType(resp.Header.Get("Content-Type")); mt != "" {
		out.MediaType = mt
	}
	out.Metadata = map[string]any{
		"source_url":     doc.URL,
		"status_code":    resp.StatusCode,
		"content_type":   resp.Header.Get("Content-Type"),
		"content_length": len(body),
	}
	return []*document.Document{out}, nil
}

// contentMediaType strips parameters like charset from a Content-Type value.
func contentMediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return header
	}
	return mt
}

package process

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tvaroska/docstate-go/docstate/document"
)

type fakeEmbeddingClient struct {
	vector []float32
	err    error
	calls  []string
}

func (f *fakeEmbeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func TestEmbedder_Success(t *testing.T) {
	fake := &fakeEmbeddingClient{vector: []float32{0.1, 0.2, 0.3}}
	e := NewEmbedder("key", "", "embed")
	e.client = fake

	doc := document.New("chunk")
	doc.Content = "some chunk text"
	doc.Metadata["chunk_index"] = 4

	out, err := e.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d children, want 1", len(out))
	}

	child := out[0]
	if child.State != "embed" {
		t.Errorf("state = %q, want embed", child.State)
	}
	if child.MediaType != "application/json" {
		t.Errorf("media type = %q, want application/json", child.MediaType)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(child.Content), &vec); err != nil {
		t.Fatalf("content is not a JSON vector: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vector = %v", vec)
	}

	if child.Metadata["embedding_model"] != DefaultEmbeddingModel {
		t.Errorf("embedding_model = %v", child.Metadata["embedding_model"])
	}
	if child.Metadata["vector_dimensions"] != 3 {
		t.Errorf("vector_dimensions = %v, want 3", child.Metadata["vector_dimensions"])
	}
	if child.Metadata["chunk_index"] != 4 {
		t.Error("parent metadata not inherited")
	}

	if len(fake.calls) != 1 || fake.calls[0] != "some chunk text" {
		t.Errorf("client calls = %v", fake.calls)
	}
}

func TestEmbedder_EmptyContent(t *testing.T) {
	e := NewEmbedder("key", "", "embed")
	e.client = &fakeEmbeddingClient{}
	if _, err := e.Process(context.Background(), document.New("chunk")); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestEmbedder_ClientError(t *testing.T) {
	e := NewEmbedder("key", "", "embed")
	e.client = &fakeEmbeddingClient{err: errors.New("quota exceeded")}

	doc := document.New("chunk")
	doc.Content = "text"
	if _, err := e.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error from failing client")
	}
}

func TestEmbedder_MissingAPIKey(t *testing.T) {
	e := NewEmbedder("", "", "embed")
	doc := document.New("chunk")
	doc.Content = "text"
	if _, err := e.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error without api key")
	}
}

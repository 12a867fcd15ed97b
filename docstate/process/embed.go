package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/tvaroska/docstate-go/docstate/document"
	"google.golang.org/api/option"
)

// DefaultEmbeddingModel is the Gemini embedding model used when none is
// configured.
const DefaultEmbeddingModel = "text-embedding-004"

// Embedder computes a Gemini embedding vector for the document's content and
// produces one child in the target state whose content is the vector as a
// JSON array, media type application/json.
//
// Child metadata: the parent's metadata plus embedding_model and
// vector_dimensions.
type Embedder struct {
	state     string
	modelName string
	client    embeddingClient
}

// embeddingClient is the slice of the Gemini SDK the processor needs.
type embeddingClient interface {
	embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds an Embedder emitting children in targetState. An empty
// modelName uses DefaultEmbeddingModel.
func NewEmbedder(apiKey, modelName, targetState string) *Embedder {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	return &Embedder{
		state:     targetState,
		modelName: modelName,
		client:    &geminiClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name implements document.Processor.
func (e *Embedder) Name() string { return "embed" }

// Process implements document.Processor.
func (e *Embedder) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	if doc.Content == "" {
		return nil, errors.New("document has no content to embed")
	}

	vector, err := e.client.embed(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding vector: %w", err)
	}

	out := document.New(e.state)
	out.Content = string(raw)
	out.MediaType = "application/json"
	out.URL = doc.URL

	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["embedding_model"] = e.modelName
	meta["vector_dimensions"] = len(vector)
	out.Metadata = meta

	return []*document.Document{out}, nil
}

// geminiClient lazily constructs the SDK client on first use, so building an
// Embedder never needs a context or network access.
type geminiClient struct {
	apiKey    string
	modelName string

	once    sync.Once
	sdk     *genai.Client
	initErr error
}

func (c *geminiClient) embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	c.once.Do(func() {
		c.sdk, c.initErr = genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	})
	if c.initErr != nil {
		return nil, c.initErr
	}

	res, err := c.sdk.EmbeddingModel(c.modelName).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, errors.New("empty embedding response")
	}
	return res.Embedding.Values, nil
}

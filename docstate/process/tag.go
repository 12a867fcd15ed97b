package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tvaroska/docstate-go/docstate/document"
)

// DefaultTagModel is the OpenAI model used when none is configured.
const DefaultTagModel = "gpt-4o-mini"

const tagSystemPrompt = `You label documents. Respond with a JSON object of the form {"tags": ["tag1", "tag2", ...]} containing up to ten short topical tags for the document you are given.`

// Tagger asks an OpenAI chat model (JSON response format) for topical tags
// and produces one child in the target state carrying the parent's content.
//
// Child metadata: the parent's metadata plus tags and tag_model.
type Tagger struct {
	state     string
	modelName string
	client    tagClient
}

// tagClient is the slice of the OpenAI SDK the processor needs.
type tagClient interface {
	tag(ctx context.Context, content string) ([]string, error)
}

// NewTagger builds a Tagger emitting children in targetState. An empty
// modelName uses DefaultTagModel.
func NewTagger(apiKey, modelName, targetState string) *Tagger {
	if modelName == "" {
		modelName = DefaultTagModel
	}
	return &Tagger{
		state:     targetState,
		modelName: modelName,
		client:    &openaiClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name implements document.Processor.
func (t *Tagger) Name() string { return "tag" }

// Process implements document.Processor.
func (t *Tagger) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	if doc.Content == "" {
		return nil, errors.New("document has no content to tag")
	}

	tags, err := t.client.tag(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("tagging failed: %w", err)
	}

	out := document.New(t.state)
	out.Content = doc.Content
	out.MediaType = doc.MediaType
	out.URL = doc.URL

	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["tags"] = tags
	meta["tag_model"] = t.modelName
	out.Metadata = meta

	return []*document.Document{out}, nil
}

type openaiClient struct {
	apiKey    string
	modelName string
}

func (c *openaiClient) tag(ctx context.Context, content string) ([]string, error) {
	if c.apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(c.apiKey))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(tagSystemPrompt),
			openai.UserMessage(content),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty chat completion response")
	}

	var parsed struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tag response: %w", err)
	}
	return parsed.Tags, nil
}

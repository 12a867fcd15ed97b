package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tvaroska/docstate-go/docstate/document"
)

// DefaultSummaryModel is the Claude model used when none is configured.
const DefaultSummaryModel = "claude-3-5-haiku-latest"

const summaryPrompt = "Summarize the following document in one paragraph. " +
	"Respond with the summary only, no preamble.\n\n"

// Summarizer asks Claude for a one-paragraph summary of the document's
// content and produces one child in the target state containing it.
//
// Child metadata: the parent's metadata plus summary_model.
type Summarizer struct {
	state     string
	modelName string
	client    messageClient
}

// messageClient is the slice of the Anthropic SDK the processor needs.
type messageClient interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// NewSummarizer builds a Summarizer emitting children in targetState. An
// empty modelName uses DefaultSummaryModel.
func NewSummarizer(apiKey, modelName, targetState string) *Summarizer {
	if modelName == "" {
		modelName = DefaultSummaryModel
	}
	return &Summarizer{
		state:     targetState,
		modelName: modelName,
		client:    &claudeClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name implements document.Processor.
func (s *Summarizer) Name() string { return "summarize" }

// Process implements document.Processor.
func (s *Summarizer) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	if doc.Content == "" {
		return nil, errors.New("document has no content to summarize")
	}

	summary, err := s.client.complete(ctx, summaryPrompt+doc.Content)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	out := document.New(s.state)
	out.Content = strings.TrimSpace(summary)
	out.URL = doc.URL

	meta := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["summary_model"] = s.modelName
	out.Metadata = meta

	return []*document.Document{out}, nil
}

type claudeClient struct {
	apiKey    string
	modelName string
}

func (c *claudeClient) complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(c.apiKey))

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty completion response")
	}
	return sb.String(), nil
}

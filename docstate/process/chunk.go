package process

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/tvaroska/docstate-go/docstate/document"
)

// DefaultChunkChars is the chunk size budget used when none is configured.
const DefaultChunkChars = 2000

// Chunk splits a document into paragraph-aligned pieces. Paragraphs
// (blank-line separated) are merged greedily until the next one would push a
// chunk past the size budget; a single oversized paragraph becomes a chunk
// of its own rather than being split mid-sentence.
//
// Children inherit the parent's metadata plus chunk_index, total_chunks,
// and chunk_length. Sizes are measured in characters, not bytes.
type Chunk struct {
	state string
	size  int
}

// NewChunk builds a Chunk processor emitting children in targetState with
// the given size budget (DefaultChunkChars when non-positive).
func NewChunk(targetState string, size int) *Chunk {
	if size <= 0 {
		size = DefaultChunkChars
	}
	return &Chunk{state: targetState, size: size}
}

// Name implements document.Processor.
func (c *Chunk) Name() string { return "chunk" }

// Process implements document.Processor.
func (c *Chunk) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	pieces := c.split(doc.Content)

	out := make([]*document.Document, 0, len(pieces))
	for i, piece := range pieces {
		child := document.New(c.state)
		child.Content = piece
		child.MediaType = doc.MediaType
		child.URL = doc.URL

		meta := make(map[string]any, len(doc.Metadata)+3)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = len(pieces)
		meta["chunk_length"] = utf8.RuneCountInString(piece)
		child.Metadata = meta

		out = append(out, child)
	}
	return out, nil
}

// split merges paragraphs into size-bounded pieces. Empty content produces
// no pieces.
func (c *Chunk) split(content string) []string {
	var pieces []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if currentLen > 0 && currentLen+2+n > c.size {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(para)
		currentLen += n
	}
	flush()
	return pieces
}

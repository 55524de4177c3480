package chunker

import (
	"fmt"
	"strings"

	"policyrag/internal/domain"
)

// WindowChunker cuts text into fixed-size, overlapping windows of runes.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window parameters. size must be positive and
// overlap must lie in [0, size).
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Chunk splits a document with the configured window.
func (c *WindowChunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	return Split(doc.ID, doc.Text, c.size, c.overlap)
}

// Split cuts text into windows of size runes advancing by size-overlap. The
// last window may be shorter. Whitespace-only windows are dropped and the
// remaining chunks are numbered densely from zero.
func Split(docID, text string, size, overlap int) ([]domain.Chunk, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	stride := size - overlap

	var chunks []domain.Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			seq := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:            domain.ChunkID(docID, seq),
				DocumentID:    docID,
				SequenceIndex: seq,
				Text:          window,
				Span:          domain.Span{Start: start, End: end},
			})
		}

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrConfig, size, overlap)
	}
	return nil
}

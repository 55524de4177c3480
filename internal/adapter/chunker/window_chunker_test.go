package chunker

import (
	"errors"
	"strings"
	"testing"

	"policyrag/internal/domain"
)

func TestSplitBasic(t *testing.T) {
	chunks, err := Split("doc1", "abcdefghij", 4, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		text       string
		start, end int
	}{
		{"abcd", 0, 4},
		{"defg", 3, 7},
		{"ghij", 6, 10},
	}

	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		c := chunks[i]
		if c.Text != w.text {
			t.Errorf("chunk %d: expected text %q, got %q", i, w.text, c.Text)
		}
		if c.Span.Start != w.start || c.Span.End != w.end {
			t.Errorf("chunk %d: expected span [%d,%d), got [%d,%d)", i, w.start, w.end, c.Span.Start, c.Span.End)
		}
		if c.SequenceIndex != i {
			t.Errorf("chunk %d: expected sequence index %d, got %d", i, i, c.SequenceIndex)
		}
		if c.DocumentID != "doc1" {
			t.Errorf("expected DocumentID 'doc1', got '%s'", c.DocumentID)
		}
		if c.ID != domain.ChunkID("doc1", i) {
			t.Errorf("unexpected chunk id %s", c.ID)
		}
	}
}

func TestSplitShortFinalWindow(t *testing.T) {
	chunks, err := Split("doc1", "abcdefg", 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "efg" {
		t.Errorf("expected final chunk 'efg', got %q", chunks[1].Text)
	}
}

func TestSplitStopsAtEnd(t *testing.T) {
	// A window that already reaches the end must not be followed by a
	// window that is fully contained in it.
	chunks, err := Split("doc1", "abcdef", 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[1].Text != "cdef" {
		t.Errorf("expected 'cdef', got %q", chunks[1].Text)
	}
}

func TestSplitCoversText(t *testing.T) {
	text := strings.Repeat("Employees must submit leave requests in advance. ", 40)
	chunks, err := Split("handbook", text, 100, 20)
	if err != nil {
		t.Fatal(err)
	}

	runes := []rune(text)
	if chunks[0].Span.Start != 0 {
		t.Errorf("first chunk should start at 0")
	}
	if chunks[len(chunks)-1].Span.End != len(runes) {
		t.Errorf("last chunk should end at %d, got %d", len(runes), chunks[len(chunks)-1].Span.End)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Span.Start != chunks[i-1].Span.End-20 {
			t.Errorf("chunk %d does not overlap the previous one by 20 runes", i)
		}
		if got := string(runes[chunks[i].Span.Start:chunks[i].Span.End]); got != chunks[i].Text {
			t.Errorf("chunk %d text does not match its span", i)
		}
	}
}

func TestSplitMultibyte(t *testing.T) {
	chunks, err := Split("doc1", "Überstunden gelten", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Text != "Übers" {
		t.Errorf("expected rune-based window 'Übers', got %q", chunks[0].Text)
	}
}

func TestSplitSkipsWhitespaceWindows(t *testing.T) {
	text := "abcd" + strings.Repeat(" ", 8) + "efgh"
	chunks, err := Split("doc1", text, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "efgh" || chunks[1].SequenceIndex != 1 {
		t.Errorf("expected dense sequence numbering, got %+v", chunks[1])
	}
	if chunks[1].Span.Start != 12 {
		t.Errorf("expected span start 12, got %d", chunks[1].Span.Start)
	}
}

func TestSplitEmpty(t *testing.T) {
	chunks, err := Split("doc1", "", 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Expense reports are due monthly. ", 30)
	a, _ := Split("d", text, 64, 16)
	b, _ := Split("d", text, 64, 16)

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitInvalidParams(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Split("d", "text", tt.size, tt.overlap); !errors.Is(err, domain.ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
			if _, err := NewWindowChunker(tt.size, tt.overlap); !errors.Is(err, domain.ErrConfig) {
				t.Errorf("expected ErrConfig from constructor, got %v", err)
			}
		})
	}
}

func TestWindowChunkerChunk(t *testing.T) {
	c, err := NewWindowChunker(20, 5)
	if err != nil {
		t.Fatal(err)
	}

	doc := domain.Document{
		ID:         "remote-work",
		SourcePath: "/policies/remote.txt",
		Text:       "Remote work requires manager approval before starting.",
	}

	chunks, err := c.Chunk(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, chunk := range chunks {
		if chunk.DocumentID != doc.ID {
			t.Errorf("expected DocumentID %q, got %q", doc.ID, chunk.DocumentID)
		}
		if len([]rune(chunk.Text)) > 20 {
			t.Errorf("chunk longer than window: %q", chunk.Text)
		}
	}
}

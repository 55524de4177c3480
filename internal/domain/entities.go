package domain

import (
	"fmt"
	"time"
)

// Document is a plain-text policy document handed over by the parsing layer.
type Document struct {
	ID         string
	SourcePath string
	Text       string
	Metadata   map[string]string
}

// Span is a half-open [Start, End) range of rune offsets into a document.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Chunk struct {
	ID            string
	DocumentID    string
	SequenceIndex int
	Text          string
	Span          Span
}

// ChunkID builds the stable chunk identifier for a document position.
func ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s#%d", docID, seq)
}

// EntryID is assigned by the vector index. Ids are never reused.
type EntryID uint64

// IndexEntry is the persisted unit: an embedding plus the chunk fields needed
// to answer a search without going back to the document.
type IndexEntry struct {
	ID            EntryID
	Vector        []float32
	DocumentID    string
	ChunkID       string
	SequenceIndex int
	SourcePath    string
	Text          string
	Span          Span
}

// EntryFromChunk pairs a chunk with its embedding. The id is left zero for the
// index to assign.
func EntryFromChunk(c Chunk, sourcePath string, vector []float32) IndexEntry {
	return IndexEntry{
		Vector:        vector,
		DocumentID:    c.DocumentID,
		ChunkID:       c.ID,
		SequenceIndex: c.SequenceIndex,
		SourcePath:    sourcePath,
		Text:          c.Text,
		Span:          c.Span,
	}
}

type Query struct {
	Text      string
	SessionID string
	Timestamp time.Time
}

// Metric selects how vectors are compared.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricL2:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q (want cosine or l2)", ErrConfig, s)
	}
}

// HigherIsBetter reports whether larger scores mean more relevant.
func (m Metric) HigherIsBetter() bool {
	return m == MetricCosine
}

// ScoredEntry is a search hit. Score is a cosine similarity in [-1, 1] or an
// L2 distance >= 0 depending on the index metric.
type ScoredEntry struct {
	Entry IndexEntry
	Score float64
}

type RetrievalStatus string

const (
	// StatusFound means at least one candidate passed the relevance gate.
	StatusFound RetrievalStatus = "found"
	// StatusNoCandidates means the index returned nothing at all.
	StatusNoCandidates RetrievalStatus = "no_candidates"
	// StatusNoRelevantContext means candidates were retrieved but none passed
	// the relevance threshold.
	StatusNoRelevantContext RetrievalStatus = "no_relevant_context"
)

type RetrievalResult struct {
	Status     RetrievalStatus
	Candidates int
	Chunks     []ScoredEntry
}

// HasContext reports whether the result carries usable context.
func (r RetrievalResult) HasContext() bool {
	return r.Status == StatusFound && len(r.Chunks) > 0
}

// EntryIDs returns the ids of the retrieved chunks in relevance order.
func (r RetrievalResult) EntryIDs() []EntryID {
	ids := make([]EntryID, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		ids = append(ids, c.Entry.ID)
	}
	return ids
}

type ConversationTurn struct {
	SessionID         string    `json:"session_id"`
	Question          string    `json:"question"`
	Answer            string    `json:"answer"`
	RetrievedChunkIDs []EntryID `json:"retrieved_chunk_ids"`
	Timestamp         time.Time `json:"timestamp"`
	Fallback          bool      `json:"fallback,omitempty"`
}

// Answer is what the orchestrator hands back to callers.
type Answer struct {
	Text         string    `json:"answer"`
	UsedChunkIDs []EntryID `json:"used_chunk_ids"`
	Sources      []string  `json:"sources"`
	Fallback     bool      `json:"fallback"`
}

type Stats struct {
	Entries   int
	Documents int
	Dimension int
	Metric    Metric
	Model     string
}

// Prompt is a rendered request for the language model.
type Prompt struct {
	System string
	User   string
}

// String joins both parts, for generators without a system role.
func (p Prompt) String() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

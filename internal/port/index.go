package port

import "policyrag/internal/domain"

// VectorIndex is the nearest-neighbour store the use cases search and fill.
type VectorIndex interface {
	Search(query []float32, k int) ([]domain.ScoredEntry, error)

	// ReplaceDocuments drops all entries of docIDs and adds entries in one
	// atomic step, returning the ids assigned to entries.
	ReplaceDocuments(docIDs []string, entries []domain.IndexEntry) ([]domain.EntryID, error)

	// DeleteDocument removes every entry of a document and reports how many
	// were removed.
	DeleteDocument(docID string) int

	Metric() domain.Metric
	Dimension() int
	Stats() domain.Stats

	// Save writes a snapshot to the files derived from base.
	Save(base string) error
}

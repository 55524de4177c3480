package store

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
)

// VectorIndex holds every IndexEntry in memory and answers exact
// nearest-neighbour queries by linear scan. Entries are kept in ascending id
// order. Returned entries share vector storage with the index and must not
// be modified.
type VectorIndex struct {
	mu     sync.RWMutex
	saveMu sync.Mutex

	dimension int
	metric    domain.Metric
	model     string

	records []record
	nextID  domain.EntryID

	log *zap.Logger
}

type record struct {
	entry domain.IndexEntry
	norm  float64
}

// NewVectorIndex creates an empty index. model records embedding provenance;
// files written by a different model are refused on load.
func NewVectorIndex(dimension int, metric domain.Metric, model string, log *zap.Logger) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", domain.ErrConfig, dimension)
	}
	if _, err := domain.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &VectorIndex{
		dimension: dimension,
		metric:    metric,
		model:     model,
		nextID:    1,
		log:       logger.OrNop(log).Named("index"),
	}, nil
}

func newRecord(e domain.IndexEntry) record {
	return record{entry: e, norm: vectorNorm(e.Vector)}
}

func (idx *VectorIndex) checkDimensions(entries []domain.IndexEntry) error {
	for i, e := range entries {
		if len(e.Vector) != idx.dimension {
			return fmt.Errorf("%w: entry %d (%s) has %d dimensions, index expects %d",
				domain.ErrDimension, i, e.ChunkID, len(e.Vector), idx.dimension)
		}
	}
	return nil
}

// Add appends entries and returns their newly assigned ids. If any vector has
// the wrong length nothing is added.
func (idx *VectorIndex) Add(entries []domain.IndexEntry) ([]domain.EntryID, error) {
	return idx.ReplaceDocuments(nil, entries)
}

// ReplaceDocuments removes every entry of the given documents and appends
// entries in one step. Readers never observe the intermediate state.
func (idx *VectorIndex) ReplaceDocuments(docIDs []string, entries []domain.IndexEntry) ([]domain.EntryID, error) {
	if err := idx.checkDimensions(entries); err != nil {
		return nil, err
	}

	prepared := make([]record, len(entries))
	for i, e := range entries {
		prepared[i] = newRecord(e)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	if len(docIDs) > 0 {
		drop := make(map[string]struct{}, len(docIDs))
		for _, id := range docIDs {
			drop[id] = struct{}{}
		}
		removed = idx.removeLocked(func(e domain.IndexEntry) bool {
			_, ok := drop[e.DocumentID]
			return ok
		})
	}

	ids := make([]domain.EntryID, len(prepared))
	for i := range prepared {
		prepared[i].entry.ID = idx.nextID
		ids[i] = idx.nextID
		idx.nextID++
	}
	idx.records = append(idx.records, prepared...)

	if removed > 0 || len(ids) > 0 {
		idx.log.Debug("index updated",
			zap.Int("added", len(ids)),
			zap.Int("removed", removed),
			zap.Int("total", len(idx.records)))
	}
	return ids, nil
}

// Delete removes entries by id. Unknown ids are ignored. Ids are never handed
// out again.
func (idx *VectorIndex) Delete(ids []domain.EntryID) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[domain.EntryID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(func(e domain.IndexEntry) bool {
		_, ok := drop[e.ID]
		return ok
	})
}

// DeleteDocument removes all entries of one document.
func (idx *VectorIndex) DeleteDocument(docID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(func(e domain.IndexEntry) bool {
		return e.DocumentID == docID
	})
}

func (idx *VectorIndex) removeLocked(match func(domain.IndexEntry) bool) int {
	kept := make([]record, 0, len(idx.records))
	for _, r := range idx.records {
		if !match(r.entry) {
			kept = append(kept, r)
		}
	}
	removed := len(idx.records) - len(kept)
	if removed > 0 {
		idx.records = kept
	}
	return removed
}

// Search returns up to k entries ordered by decreasing relevance: highest
// cosine similarity or lowest Euclidean distance. Equal scores are ordered by
// ascending id.
func (idx *VectorIndex) Search(query []float32, k int) ([]domain.ScoredEntry, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfig, k)
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d", domain.ErrDimension, len(query), idx.dimension)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.records) == 0 {
		return nil, nil
	}

	qNorm := vectorNorm(query)
	scores := make([]domain.ScoredEntry, len(idx.records))
	for i, r := range idx.records {
		var s float64
		if idx.metric == domain.MetricCosine {
			s = cosineSimilarity(query, r.entry.Vector, qNorm, r.norm)
		} else {
			s = euclideanDistance(query, r.entry.Vector)
		}
		scores[i] = domain.ScoredEntry{Entry: r.entry, Score: s}
	}

	higher := idx.metric.HigherIsBetter()
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			if higher {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.Entry.ID < b.Entry.ID
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Entry looks up one entry by id.
func (idx *VectorIndex) Entry(id domain.EntryID) (domain.IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i := sort.Search(len(idx.records), func(i int) bool {
		return idx.records[i].entry.ID >= id
	})
	if i < len(idx.records) && idx.records[i].entry.ID == id {
		return idx.records[i].entry, true
	}
	return domain.IndexEntry{}, false
}

// Documents lists the distinct document ids in the index, sorted.
func (idx *VectorIndex) Documents() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	var docs []string
	for _, r := range idx.records {
		if _, ok := seen[r.entry.DocumentID]; ok {
			continue
		}
		seen[r.entry.DocumentID] = struct{}{}
		docs = append(docs, r.entry.DocumentID)
	}
	sort.Strings(docs)
	return docs
}

func (idx *VectorIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// NextID is the id the next added entry will receive.
func (idx *VectorIndex) NextID() domain.EntryID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nextID
}

func (idx *VectorIndex) Dimension() int        { return idx.dimension }
func (idx *VectorIndex) Metric() domain.Metric { return idx.metric }
func (idx *VectorIndex) Model() string         { return idx.model }

// Stats summarises the index.
func (idx *VectorIndex) Stats() domain.Stats {
	return domain.Stats{
		Entries:   idx.Count(),
		Documents: len(idx.Documents()),
		Dimension: idx.dimension,
		Metric:    idx.metric,
		Model:     idx.model,
	}
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity is 0 when either vector has zero length.
func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

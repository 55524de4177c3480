package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
)

// VectorPath and MetadataPath derive the two index files from a base path.
func VectorPath(base string) string   { return base + ".vec" }
func MetadataPath(base string) string { return base + ".meta" }

// IndexExists reports whether a saved index is present at base.
func IndexExists(base string) bool {
	_, errVec := os.Stat(VectorPath(base))
	_, errMeta := os.Stat(MetadataPath(base))
	return errVec == nil && errMeta == nil
}

// Save writes a point-in-time snapshot of the index to base.vec and
// base.meta. Each file is written to a temporary name and renamed into place.
// Concurrent searches continue while the files are written.
func (idx *VectorIndex) Save(base string) error {
	idx.saveMu.Lock()
	defer idx.saveMu.Unlock()

	idx.mu.RLock()
	records := make([]record, len(idx.records))
	copy(records, idx.records)
	nextID := idx.nextID
	idx.mu.RUnlock()

	start := time.Now()
	snapshot := uuid.New()

	if dir := filepath.Dir(base); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	}

	vecTmp := VectorPath(base) + ".tmp"
	metaTmp := MetadataPath(base) + ".tmp"
	cleanup := func() {
		os.Remove(vecTmp)
		os.Remove(metaTmp)
	}
	cleanup()

	header := vectorFileHeader{
		Metric:    idx.metric,
		Dimension: idx.dimension,
		Count:     len(records),
		NextID:    nextID,
		Snapshot:  snapshot,
	}
	if err := writeVectorFile(vecTmp, header, records); err != nil {
		cleanup()
		return fmt.Errorf("%w: writing vectors: %v", domain.ErrPersistence, err)
	}

	info := SchemaInfo{
		Version:  CurrentSchemaVersion,
		Snapshot: snapshot,
		Model:    idx.model,
		Count:    len(records),
	}
	if err := writeMetadataFile(metaTmp, info, records); err != nil {
		cleanup()
		return fmt.Errorf("%w: writing metadata: %v", domain.ErrPersistence, err)
	}

	if err := os.Rename(vecTmp, VectorPath(base)); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := os.Rename(metaTmp, MetadataPath(base)); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	idx.log.Info("index saved",
		zap.String("path", base),
		zap.Int("entries", len(records)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// loadedIndex is a fully validated file pair, ready to swap in.
type loadedIndex struct {
	header  vectorFileHeader
	model   string
	records []record
}

func readIndexFiles(base string) (*loadedIndex, error) {
	header, vecs, err := readVectorFile(VectorPath(base))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPersistence, VectorPath(base), err)
	}
	if _, err := os.Stat(MetadataPath(base)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	info, metas, err := readMetadataFile(MetadataPath(base))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPersistence, MetadataPath(base), err)
	}

	if info.Snapshot != header.Snapshot {
		return nil, fmt.Errorf("%w: vector file and metadata come from different saves", domain.ErrPersistence)
	}
	if info.Count != header.Count || len(metas) != len(vecs) {
		return nil, fmt.Errorf("%w: %d vectors but %d metadata entries", domain.ErrPersistence, len(vecs), len(metas))
	}

	records := make([]record, len(vecs))
	for i, v := range vecs {
		meta, ok := metas[v.ID]
		if !ok {
			return nil, fmt.Errorf("%w: entry %d has a vector but no metadata", domain.ErrPersistence, v.ID)
		}
		records[i] = newRecord(domain.IndexEntry{
			ID:            v.ID,
			Vector:        v.Vector,
			DocumentID:    meta.DocumentID,
			ChunkID:       meta.ChunkID,
			SequenceIndex: meta.SequenceIndex,
			SourcePath:    meta.SourcePath,
			Text:          meta.Text,
			Span:          meta.Span,
		})
	}

	return &loadedIndex{header: header, model: info.Model, records: records}, nil
}

// Load replaces the contents of the index with the files at base. The files
// must match the index dimension, metric and embedding model. On any error
// the index is left exactly as it was.
func (idx *VectorIndex) Load(base string) error {
	loaded, err := readIndexFiles(base)
	if err != nil {
		return err
	}

	if loaded.header.Dimension != idx.dimension {
		return fmt.Errorf("%w: saved index has dimension %d, expected %d", domain.ErrPersistence, loaded.header.Dimension, idx.dimension)
	}
	if loaded.header.Metric != idx.metric {
		return fmt.Errorf("%w: saved index uses metric %s, expected %s", domain.ErrPersistence, loaded.header.Metric, idx.metric)
	}
	if idx.model != "" && loaded.model != idx.model {
		return fmt.Errorf("%w: saved index was built with model %q, expected %q", domain.ErrPersistence, loaded.model, idx.model)
	}

	idx.mu.Lock()
	idx.records = loaded.records
	// ids handed out by this instance stay retired
	if loaded.header.NextID > idx.nextID {
		idx.nextID = loaded.header.NextID
	}
	idx.mu.Unlock()

	idx.log.Info("index loaded", zap.String("path", base), zap.Int("entries", len(loaded.records)))
	return nil
}

// OpenVectorIndex builds an index from saved files, taking dimension, metric
// and model from them.
func OpenVectorIndex(base string, log *zap.Logger) (*VectorIndex, error) {
	loaded, err := readIndexFiles(base)
	if err != nil {
		return nil, err
	}

	idx, err := NewVectorIndex(loaded.header.Dimension, loaded.header.Metric, loaded.model, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	idx.records = loaded.records
	idx.nextID = loaded.header.NextID

	logger.OrNop(log).Named("index").Info("index opened", zap.String("path", base), zap.Int("entries", len(loaded.records)))
	return idx, nil
}

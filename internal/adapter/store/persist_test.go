package store

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"policyrag/internal/domain"
)

func randomIndex(t *testing.T, metric domain.Metric, dim, n int, seed int64) *VectorIndex {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	idx := newIndex(t, dim, metric)

	entries := make([]domain.IndexEntry, n)
	for i := range entries {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		entries[i] = entry("doc", i, vec...)
		entries[i].SourcePath = "/policies/handbook.txt"
	}
	_, err := idx.Add(entries)
	require.NoError(t, err)
	return idx
}

func TestSaveLoad_RoundTripSearchIdentical(t *testing.T) {
	for _, metric := range []domain.Metric{domain.MetricCosine, domain.MetricL2} {
		t.Run(string(metric), func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "index")
			idx := randomIndex(t, metric, 8, 40, 7)
			idx.Delete([]domain.EntryID{3, 17})

			require.NoError(t, idx.Save(base))
			assert.True(t, IndexExists(base))

			loaded, err := OpenVectorIndex(base, nil)
			require.NoError(t, err)
			assert.Equal(t, idx.Count(), loaded.Count())
			assert.Equal(t, idx.NextID(), loaded.NextID())
			assert.Equal(t, "test-model", loaded.Model())
			assert.Equal(t, metric, loaded.Metric())

			rng := rand.New(rand.NewSource(99))
			for q := 0; q < 10; q++ {
				query := make([]float32, 8)
				for j := range query {
					query[j] = rng.Float32()*2 - 1
				}
				want, err := idx.Search(query, 5)
				require.NoError(t, err)
				got, err := loaded.Search(query, 5)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestSaveLoad_IDsStayFresh(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	idx := randomIndex(t, domain.MetricCosine, 4, 5, 1)
	idx.Delete([]domain.EntryID{5})
	require.NoError(t, idx.Save(base))

	loaded, err := OpenVectorIndex(base, nil)
	require.NoError(t, err)

	ids, err := loaded.Add([]domain.IndexEntry{entry("new", 0, 1, 0, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []domain.EntryID{6}, ids)
}

func TestLoad_IntoExistingIndex(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	src := randomIndex(t, domain.MetricCosine, 4, 3, 1)
	require.NoError(t, src.Save(base))

	dst := randomIndex(t, domain.MetricCosine, 4, 10, 2)
	require.NoError(t, dst.Load(base))
	assert.Equal(t, 3, dst.Count())
	// ids handed out before the load are not reused
	assert.Equal(t, domain.EntryID(11), dst.NextID())
}

func TestLoad_DimensionMismatchKeepsState(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	require.NoError(t, randomIndex(t, domain.MetricCosine, 4, 3, 1).Save(base))

	idx := randomIndex(t, domain.MetricCosine, 8, 6, 2)
	err := idx.Load(base)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 6, idx.Count())
}

func TestLoad_MetricAndModelMismatch(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	require.NoError(t, randomIndex(t, domain.MetricCosine, 4, 3, 1).Save(base))

	l2 := newIndex(t, 4, domain.MetricL2)
	assert.ErrorIs(t, l2.Load(base), domain.ErrPersistence)

	other, err := NewVectorIndex(4, domain.MetricCosine, "other-model", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Load(base), domain.ErrPersistence)
	assert.Equal(t, 0, other.Count())
}

func TestLoad_CorruptVectorFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	require.NoError(t, randomIndex(t, domain.MetricCosine, 4, 3, 1).Save(base))

	data, err := os.ReadFile(VectorPath(base))
	require.NoError(t, err)
	data[vectorHeaderSize+10] ^= 0xFF
	require.NoError(t, os.WriteFile(VectorPath(base), data, 0644))

	idx := randomIndex(t, domain.MetricCosine, 4, 2, 5)
	before, _ := idx.Search([]float32{1, 0, 0, 0}, 2)

	assert.ErrorIs(t, idx.Load(base), domain.ErrPersistence)
	after, _ := idx.Search([]float32{1, 0, 0, 0}, 2)
	assert.Equal(t, before, after)

	_, err = OpenVectorIndex(base, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestLoad_TruncatedVectorFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	require.NoError(t, randomIndex(t, domain.MetricCosine, 4, 3, 1).Save(base))

	require.NoError(t, os.WriteFile(VectorPath(base), []byte("PRVX"), 0644))
	_, err := OpenVectorIndex(base, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestLoad_MismatchedSaves(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	idx := randomIndex(t, domain.MetricCosine, 4, 3, 1)
	require.NoError(t, idx.Save(a))
	require.NoError(t, idx.Save(b))

	// same content, different saves: the pair must be refused
	require.NoError(t, os.Rename(MetadataPath(b), MetadataPath(a)))
	_, err := OpenVectorIndex(a, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestLoad_MissingFiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	assert.False(t, IndexExists(base))

	_, err := OpenVectorIndex(base, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	require.NoError(t, randomIndex(t, domain.MetricCosine, 4, 3, 1).Save(base))
	require.NoError(t, os.Remove(MetadataPath(base)))
	_, err = OpenVectorIndex(base, nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestSave_EmptyIndex(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "index")
	idx := newIndex(t, 4, domain.MetricCosine)
	require.NoError(t, idx.Save(base))

	loaded, err := OpenVectorIndex(base, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Count())
	assert.Equal(t, 4, loaded.Dimension())

	_, err = os.Stat(VectorPath(base) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSave_Overwrite(t *testing.T) {
	base := filepath.Join(t.TempDir(), "index")
	idx := randomIndex(t, domain.MetricCosine, 4, 3, 1)
	require.NoError(t, idx.Save(base))

	_, err := idx.Add([]domain.IndexEntry{entry("late", 0, 1, 1, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, idx.Save(base))

	loaded, err := OpenVectorIndex(base, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Count())
	e, ok := loaded.Entry(4)
	require.True(t, ok)
	assert.Equal(t, "late#0", e.ChunkID)
	assert.Equal(t, domain.Span{Start: 0, End: 10}, e.Span)
}

package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"policyrag/internal/domain"
)

// CurrentSchemaVersion is the metadata sidecar format version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	bucketHeader  = []byte("header")
	bucketEntries = []byte("entries")

	keySchemaVersion = []byte("schema_version")
	keySnapshot      = []byte("snapshot")
	keyModel         = []byte("model")
	keyCount         = []byte("count")
)

// SchemaInfo is the header stored in the sidecar.
type SchemaInfo struct {
	Version  int
	Snapshot uuid.UUID
	Model    string
	Count    int
}

// entryMeta is the JSON value stored per entry id.
type entryMeta struct {
	DocumentID    string      `json:"doc_id"`
	ChunkID       string      `json:"chunk_id"`
	SequenceIndex int         `json:"seq"`
	SourcePath    string      `json:"source,omitempty"`
	Text          string      `json:"text"`
	Span          domain.Span `json:"span"`
}

func idKey(id domain.EntryID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func writeMetadataFile(path string, info SchemaInfo, records []record) error {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		hb, err := tx.CreateBucketIfNotExists(bucketHeader)
		if err != nil {
			return err
		}
		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		countData, err := json.Marshal(info.Count)
		if err != nil {
			return err
		}
		for k, v := range map[string][]byte{
			string(keySchemaVersion): versionData,
			string(keySnapshot):      info.Snapshot[:],
			string(keyModel):         []byte(info.Model),
			string(keyCount):         countData,
		} {
			if err := hb.Put([]byte(k), v); err != nil {
				return err
			}
		}

		eb, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		// keys arrive in ascending order
		eb.FillPercent = 0.9
		for _, r := range records {
			data, err := json.Marshal(entryMeta{
				DocumentID:    r.entry.DocumentID,
				ChunkID:       r.entry.ChunkID,
				SequenceIndex: r.entry.SequenceIndex,
				SourcePath:    r.entry.SourcePath,
				Text:          r.entry.Text,
				Span:          r.entry.Span,
			})
			if err != nil {
				return err
			}
			if err := eb.Put(idKey(r.entry.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func readMetadataFile(path string) (SchemaInfo, map[domain.EntryID]entryMeta, error) {
	var info SchemaInfo

	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return info, nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	defer db.Close()

	entries := make(map[domain.EntryID]entryMeta)
	err = db.View(func(tx *bbolt.Tx) error {
		hb := tx.Bucket(bucketHeader)
		eb := tx.Bucket(bucketEntries)
		if hb == nil || eb == nil {
			return errors.New("metadata buckets missing")
		}

		if err := json.Unmarshal(hb.Get(keySchemaVersion), &info.Version); err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		if err := json.Unmarshal(hb.Get(keyCount), &info.Count); err != nil {
			return fmt.Errorf("count: %w", err)
		}
		snap, err := uuid.FromBytes(hb.Get(keySnapshot))
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		info.Snapshot = snap
		info.Model = string(hb.Get(keyModel))

		return eb.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("malformed entry key %x", k)
			}
			var meta entryMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("entry %x: %w", k, err)
			}
			entries[domain.EntryID(binary.BigEndian.Uint64(k))] = meta
			return nil
		})
	})
	if err != nil {
		return info, nil, err
	}

	if info.Version > CurrentSchemaVersion {
		return info, nil, fmt.Errorf("metadata created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}
	if info.Version < 1 {
		return info, nil, fmt.Errorf("metadata schema version %d is not supported", info.Version)
	}
	return info, entries, nil
}

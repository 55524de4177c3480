package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"policyrag/internal/domain"
)

var bucketSessions = []byte("sessions")

// BoltConversationLog stores each session as a nested bucket of turns keyed
// by a big-endian sequence number, so cursor order is append order.
type BoltConversationLog struct {
	db *bbolt.DB
}

func NewBoltConversationLog(path string) (*BoltConversationLog, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open conversation log: %v", domain.ErrPersistence, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	return &BoltConversationLog{db: db}, nil
}

// Append stores turn and trims the session to its newest keep turns in the
// same transaction. The write is synced before Append returns.
func (l *BoltConversationLog) Append(turn domain.ConversationTurn, keep int) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(turn.SessionID))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}

		if keep <= 0 {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: appending turn: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Recent returns up to n newest turns, oldest first. n <= 0 returns all.
func (l *BoltConversationLog) Recent(sessionID string, n int) ([]domain.ConversationTurn, error) {
	var turns []domain.ConversationTurn
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(turns) < n); k, v = c.Prev() {
			var turn domain.ConversationTurn
			if err := json.Unmarshal(v, &turn); err != nil {
				return fmt.Errorf("turn %x: %w", k, err)
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading session %s: %v", domain.ErrPersistence, sessionID, err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Delete drops a session. Unknown sessions are not an error.
func (l *BoltConversationLog) Delete(sessionID string) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketSessions).DeleteBucket([]byte(sessionID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: clearing session %s: %v", domain.ErrPersistence, sessionID, err)
	}
	return nil
}

// Sessions lists the ids of sessions with at least one stored turn.
func (l *BoltConversationLog) Sessions() ([]string, error) {
	var ids []string
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func (l *BoltConversationLog) Close() error {
	return l.db.Close()
}

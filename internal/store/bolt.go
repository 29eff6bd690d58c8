package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketTraces = []byte("traces")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTraces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveTrace stores rec, filling in CreatedAt and ID when they are empty.
func (s *BoltStore) SaveTrace(rec *TraceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ID == "" {
		rec.ID = traceID(rec.CreatedAt)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraces)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTraces)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: encode trace %s: %w", rec.ID, err)
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltStore) GetTrace(id string) (*TraceRecord, error) {
	var rec TraceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraces)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTraces)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("trace %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) DeleteTrace(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraces)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTraces)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("trace %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// ListTraces returns every archived trace, oldest first.
func (s *BoltStore) ListTraces() ([]*TraceRecord, error) {
	var traces []*TraceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraces)
		if b == nil {
			return nil // no bucket = no traces
		}
		traces = make([]*TraceRecord, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec TraceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: decode trace %s: %w", k, err)
			}
			traces = append(traces, &rec)
			return nil
		})
	})
	return traces, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

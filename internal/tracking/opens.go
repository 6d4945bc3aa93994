package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketOpens = []byte("opens")

// Open is one tracking pixel hit
type Open struct {
	Code      string    `json:"code"`
	Wave      int       `json:"wave"`
	Recipient int       `json:"recipient"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
}

// OpenStore persists pixel hits in BoltDB
type OpenStore struct {
	db *bolt.DB
}

// OpenOpenStore opens (or creates) the open store at path
func OpenOpenStore(path string) (*OpenStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := NewOpenStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewOpenStore creates the opens bucket in an already open database
func NewOpenStore(db *bolt.DB) (*OpenStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOpens)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opens bucket: %w", err)
	}
	return &OpenStore{db: db}, nil
}

// Record stores one open
func (s *OpenStore) Record(ctx context.Context, o *Open) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal open: %w", err)
		}
		key := []byte(o.OpenedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + o.Code)
		return tx.Bucket(bucketOpens).Put(key, data)
	})
}

// All returns every recorded open, oldest first
func (s *OpenStore) All(ctx context.Context) ([]Open, error) {
	var opens []Open
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOpens).ForEach(func(k, v []byte) error {
			var o Open
			if err := json.Unmarshal(v, &o); err != nil {
				return nil
			}
			opens = append(opens, o)
			return nil
		})
	})
	return opens, err
}

// Close closes the underlying database
func (s *OpenStore) Close() error {
	return s.db.Close()
}

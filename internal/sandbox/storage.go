// Package sandbox captures campaign mail locally instead of delivering it,
// either in-process or through a local SMTP listener.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

const (
	SourceTransport = "transport"
	SourceSMTP      = "smtp"
)

// Message is one captured mail
type Message struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	Subject      string    `json:"subject"`
	Wave         int       `json:"wave,omitempty"`
	Position     int       `json:"position,omitempty"`
	TrackingCode string    `json:"tracking_code,omitempty"`
	Data         []byte    `json:"data"`
	Source       string    `json:"source"`
	AuthUser     string    `json:"auth_user,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Storage keeps captured messages in BoltDB, ordered by capture time
type Storage struct {
	db *bolt.DB
}

// OpenStorage opens (or creates) the capture database at path
func OpenStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStorage creates the sandbox bucket in an already open database
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is readable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSandbox) == nil {
			return fmt.Errorf("sandbox bucket missing")
		}
		return nil
	})
}

// Save stores a captured message
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Bucket(bucketSandbox).Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// Get returns a message by ID, or nil when it does not exist
func (s *Storage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// ListFilter narrows List results
type ListFilter struct {
	Wave   int
	To     string
	Source string
	Limit  int
	Offset int
}

func (f ListFilter) match(m *Message) bool {
	if f.Wave != 0 && m.Wave != f.Wave {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if f.To != "" {
		found := false
		for _, to := range m.To {
			if to == f.To {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// List returns matching messages newest first, without their raw data
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	var messages []*Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if !filter.match(&msg) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			msg.Data = nil
			messages = append(messages, &msg)

			if filter.Limit > 0 && len(messages) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return messages, err
}

// Clear removes captured messages older than olderThan (all when zero)
func (s *Storage) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if olderThan > 0 {
				var msg Message
				if err := json.Unmarshal(v, &msg); err != nil {
					continue
				}
				if msg.CapturedAt.After(cutoff) {
					continue
				}
			}
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// Stats summarises the capture store
type Stats struct {
	Total     int64            `json:"total"`
	ByWave    map[int]int64    `json:"by_wave"`
	BySource  map[string]int64 `json:"by_source"`
	OldestAt  *time.Time       `json:"oldest_at,omitempty"`
	NewestAt  *time.Time       `json:"newest_at,omitempty"`
	TotalSize int64            `json:"total_size"`
}

// Stats returns capture statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByWave:   make(map[int]int64),
		BySource: make(map[string]int64),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandbox).ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}

			stats.Total++
			stats.TotalSize += int64(len(msg.Data))
			stats.ByWave[msg.Wave]++
			stats.BySource[msg.Source]++

			captured := msg.CapturedAt
			if stats.OldestAt == nil || captured.Before(*stats.OldestAt) {
				stats.OldestAt = &captured
			}
			if stats.NewestAt == nil || captured.After(*stats.NewestAt) {
				stats.NewestAt = &captured
			}
			return nil
		})
	})

	return stats, err
}

// indexTimeFormat is fixed width so keys sort chronologically
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + ":" + id)
}

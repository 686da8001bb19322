// Package props provides the system property store backing cross-cutting
// daemon state such as post-mount trigger slots. Properties are flat string
// key-value pairs; an unset key reads as the empty string.
package props

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Store is a flat string key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or "" if the key is unset.
	Get(key string) (string, error)

	// Set stores value under key. Setting "" is equivalent to clearing.
	Set(key, value string) error
}

// MemStore is an in-memory Store, used in tests and as a fallback when no
// persistent store is configured.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get implements Store.
func (s *MemStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Set implements Store.
func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.values, key)
		return nil
	}
	s.values[key] = value
	return nil
}

// propertiesBucket is the single bbolt bucket holding all properties.
var propertiesBucket = []byte("properties")

// BoltStore is a Store persisted in a bbolt database so trigger state
// survives daemon restarts.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the property database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open property store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(propertiesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize property store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get implements Store.
func (s *BoltStore) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(propertiesBucket).Get([]byte(key)); v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read property %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (s *BoltStore) Set(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(propertiesBucket)
		if value == "" {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write property %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

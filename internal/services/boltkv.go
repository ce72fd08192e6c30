package services

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltKV is a durable string key-value store in a single bbolt bucket. The terminal widget keeps its
// session token in it, the same way a browser widget keeps it in local storage.
type BoltKV struct {
	db *bolt.DB
}

var kvBucket = []byte("kv")

// NewBoltKV opens, or creates, the key-value file at path.
func NewBoltKV(path string) (BoltKV, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltKV{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltKV{}, fmt.Errorf("failed to create kv bucket: %w", err)
	}

	return BoltKV{db: db}, nil
}

// Close releases the database file.
func (s BoltKV) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key. The boolean is false when the key is absent.
func (s BoltKV) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		value, found = string(v), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key, replacing any previous value.
func (s BoltKV) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s BoltKV) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Package cache persists extracted text between runs so unchanged files are
// never re-parsed or re-recognized. Entries are keyed by content hash, which
// survives renames.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

var textBucket = []byte("extracted_text")

// Store is a bolt-backed text cache.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the cache database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(textBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// GetText returns the cached text for a content hash.
func (s *Store) GetText(key string) (string, bool, error) {
	var text string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(textBucket).Get([]byte(key)); v != nil {
			text = string(v)
			found = true
		}
		return nil
	})
	return text, found, err
}

// PutText stores extracted text under a content hash.
func (s *Store) PutText(key, text string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(textBucket).Put([]byte(key), []byte(text))
	})
}

// FileKey hashes a file's contents into a cache key.
func FileKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

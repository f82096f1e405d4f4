package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"apimon/internal/types"
)

// SessionKey is the single key the entry list is stored under.
const SessionKey = "apiMonitorLogs"

var (
	bucketSession = []byte("session")

	ErrNotFound = errors.New("storage: key not found")
)

// Store is a key/value session store backed by a bbolt file.
type Store struct {
	db *bolt.DB
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketSession)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get decodes the value stored under key into v.
func (s *Store) Get(key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSession).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, v)
	})
}

// Set replaces the value stored under key.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put([]byte(key), raw)
	})
}

// DeleteAll drops every stored key.
func (s *Store) DeleteAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSession); err != nil {
			return fmt.Errorf("delete bucket: %w", err)
		}
		_, err := tx.CreateBucket(bucketSession)
		return err
	})
}

// Entries adapts the store to the monitor's session contract.
func (s *Store) Entries() *EntryStore {
	return &EntryStore{store: s}
}

// EntryStore keeps the captured entry list under SessionKey. There is no
// schema version: an incompatible shape fails the next load.
type EntryStore struct {
	store *Store
}

func (e *EntryStore) Load(ctx context.Context) ([]types.Entry, error) {
	var entries []types.Entry
	err := e.store.Get(SessionKey, &entries)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return entries, nil
}

func (e *EntryStore) Save(ctx context.Context, entries []types.Entry) error {
	if entries == nil {
		entries = []types.Entry{}
	}
	return e.store.Set(SessionKey, entries)
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Store is the embedded durable store backing CredentialStore, MessageSpool,
// and FileRegistry. A single pebble.DB instance is shared across all three:
// their key spaces are namespaced by prefix (see keys.go).
type Store struct {
	db *pebble.DB

	// mu guards compound operations (e.g. cascading deletes) that touch more
	// than one key and must appear atomic to readers. pebble itself
	// serializes single-key reads/writes; mu only protects multi-key
	// invariants this package adds on top.
	mu sync.Mutex
}

// Open opens (creating if absent) the pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var errNotFound = errors.New("storage: not found")

func (s *Store) getJSON(key []byte, v interface{}) (bool, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, b, pebble.Sync)
}

func (s *Store) delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

// iteratePrefix calls fn for every key/value pair with the given prefix, in
// key order. fn returning an error stops iteration and propagates the error.
func (s *Store) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...)); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as a pebble iterator UpperBound.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; no upper bound needed.
}

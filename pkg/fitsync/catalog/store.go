package catalog

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a fingerprint entry doesn't exist.
var ErrNotFound = errors.New("fingerprint entry not found")

// keySeparator separates the file path from its stat signature in
// cache keys.
const keySeparator = '\x00'

// cachedFingerprint is the persisted record for one (path, size,
// mtime) combination.
type cachedFingerprint struct {
	Fingerprint string
	ComputedAt  int64 // UnixNano
}

func (e *cachedFingerprint) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *cachedFingerprint) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// makeKey builds the lookup key: <path>\x00<size>:<mtimeNano>. A file
// that changes size or mtime naturally misses and gets rehashed.
func makeKey(path string, size, mtimeNano int64) []byte {
	return []byte(fmt.Sprintf("%s%c%d:%d", path, keySeparator, size, mtimeNano))
}

// Store persists fingerprints across runs so unchanged files are not
// rehashed on every scan.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates the fingerprint store at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached fingerprint for the exact stat signature.
func (s *Store) Get(path string, size, mtimeNano int64) (string, error) {
	key := makeKey(path, size, mtimeNano)
	var entry cachedFingerprint

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(entry.decode)
	})
	if err != nil {
		return "", err
	}
	return entry.Fingerprint, nil
}

// Put stores a fingerprint for the stat signature and clears any
// stale signatures for the same path.
func (s *Store) Put(path string, size, mtimeNano int64, fingerprint string, computedAt int64) error {
	value, err := (&cachedFingerprint{Fingerprint: fingerprint, ComputedAt: computedAt}).encode()
	if err != nil {
		return err
	}

	prefix := []byte(path + string(keySeparator))
	key := makeKey(path, size, mtimeNano)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		return txn.Set(key, value)
	})
}

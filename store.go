package httpsepreload

import (
	"errors"
	"fmt"
	"strings"
)

// Backend names a sorted key-value store implementation.
type Backend string

const (
	// BackendLevelDB writes a LevelDB directory, which is what browser side
	// consumers open.
	BackendLevelDB Backend = "leveldb"
	BackendPebble  Backend = "pebble"
)

// ErrNotFound is returned by Reader.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// ParseBackend validates a configured backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(s)); b {
	case "", BackendLevelDB:
		return BackendLevelDB, nil
	case BackendPebble:
		return b, nil
	}
	return "", fmt.Errorf("unknown store backend %q", s)
}

// Store is a freshly created key-value store. Puts are buffered until Commit.
type Store interface {
	Put(key, value []byte) error
	Commit() error
	Close() error
}

// Reader reads a finished store.
type Reader interface {
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key in sorted order, stopping at the first
	// error. key and value are only valid for the duration of the call.
	Iterate(fn func(key, value []byte) error) error
	Close() error
}

// CreateStore creates a new store at path. It fails if a store already exists
// there.
func CreateStore(backend Backend, path string) (Store, error) {
	switch backend {
	case BackendLevelDB:
		return createLevelDB(path)
	case BackendPebble:
		return createPebble(path)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// OpenReader opens an existing store read-only.
func OpenReader(backend Backend, path string) (Reader, error) {
	switch backend {
	case BackendLevelDB:
		return openLevelDB(path)
	case BackendPebble:
		return openPebble(path)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

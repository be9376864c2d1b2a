package httpsepreload

import (
	"github.com/cockroachdb/pebble"
)

type pebbleStore struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func createPebble(path string) (*pebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{ErrorIfExists: true})
	if err != nil {
		return nil, err
	}
	return &pebbleStore{db: db, batch: db.NewBatch()}, nil
}

func (s *pebbleStore) Put(key, value []byte) error {
	return s.batch.Set(key, value, nil)
}

func (s *pebbleStore) Commit() error {
	if err := s.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	if err := s.batch.Close(); err != nil {
		return err
	}
	s.batch = s.db.NewBatch()
	return nil
}

func (s *pebbleStore) Close() error {
	if s.batch != nil {
		s.batch.Close()
		s.batch = nil
	}
	return s.db.Close()
}

type pebbleReader struct {
	db *pebble.DB
}

func openPebble(path string) (*pebbleReader, error) {
	db, err := pebble.Open(path, &pebble.Options{
		ErrorIfNotExists: true,
		ReadOnly:         true,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleReader{db: db}, nil
}

func (r *pebbleReader) Get(key []byte) ([]byte, error) {
	value, closer, err := r.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (r *pebbleReader) Iterate(fn func(key, value []byte) error) error {
	iter, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (r *pebbleReader) Close() error {
	return r.db.Close()
}

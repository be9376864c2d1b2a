package httpsepreload

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type levelDBStore struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func createLevelDB(path string) (*levelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfExist: true,
		Compression:  opt.NoCompression,
	})
	if err != nil {
		return nil, err
	}
	return &levelDBStore{db: db, batch: new(leveldb.Batch)}, nil
}

func (s *levelDBStore) Put(key, value []byte) error {
	s.batch.Put(key, value)
	return nil
}

func (s *levelDBStore) Commit() error {
	if err := s.db.Write(s.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return err
	}
	s.batch.Reset()
	return nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

type levelDBReader struct {
	db *leveldb.DB
}

func openLevelDB(path string) (*levelDBReader, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: true,
		ReadOnly:       true,
	})
	if err != nil {
		return nil, err
	}
	return &levelDBReader{db: db}, nil
}

func (r *levelDBReader) Get(key []byte) ([]byte, error) {
	value, err := r.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

func (r *levelDBReader) Iterate(fn func(key, value []byte) error) error {
	iter := r.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (r *levelDBReader) Close() error {
	return r.db.Close()
}

package httpsepreload

import (
	"fmt"
	"os"
	"path/filepath"
)

// PersistIndex writes ix into a new store at path and returns the number of
// keys written. The store is built in a staging directory next to path and
// only renamed into place once every write and the close have succeeded, so
// path never holds a partial store. If path already exists PersistIndex fails
// without touching it.
func PersistIndex(ix *Index, backend Backend, path string) (int, error) {
	if _, err := os.Lstat(path); err == nil {
		return 0, persistError(fmt.Errorf("%v: %w", path, ErrStoreExists))
	} else if !os.IsNotExist(err) {
		return 0, persistError(err)
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, persistError(err)
	}
	staging, err := os.MkdirTemp(parent, filepath.Base(path)+".staging-")
	if err != nil {
		return 0, persistError(err)
	}
	defer os.RemoveAll(staging)

	stagedPath := filepath.Join(staging, "store")
	keys, err := writeStore(ix, backend, stagedPath)
	if err != nil {
		return 0, persistError(err)
	}
	if err := os.Rename(stagedPath, path); err != nil {
		return 0, persistError(err)
	}
	log.Debugf("Wrote %v keys to %v store %v", keys, backend, path)
	return keys, nil
}

func writeStore(ix *Index, backend Backend, path string) (int, error) {
	st, err := CreateStore(backend, path)
	if err != nil {
		return 0, fmt.Errorf("create store: %w", err)
	}
	keys, err := ix.WriteStore(st)
	if err == nil {
		err = st.Commit()
	}
	if err != nil {
		st.Close()
		return 0, fmt.Errorf("write store: %w", err)
	}
	if err := st.Close(); err != nil {
		return 0, fmt.Errorf("close store: %w", err)
	}
	return keys, nil
}

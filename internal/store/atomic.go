package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"unitforge/internal/model"
)

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return wrapWriteErr(path, err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return wrapWriteErr(path, err)
	}
	return nil
}

func wrapWriteErr(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("write %s: %w", path, model.ErrPermissionDenied)
	}
	return fmt.Errorf("write %s: %w", path, err)
}

// Package fsutil provides filesystem helpers shared by the emitter, the
// report writer and the plan loader.
package fsutil

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// EnsureDir creates a directory if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "fsutil.EnsureDir: create %s", path)
	}
	return nil
}

// WriteFileAtomic writes path through a temp file in the same directory and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "fsutil.WriteFileAtomic: temp file for %s", path)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "fsutil.WriteFileAtomic: write %s", path)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "fsutil.WriteFileAtomic: chmod %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "fsutil.WriteFileAtomic: close %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "fsutil.WriteFileAtomic: rename into %s", path)
	}

	success = true
	return nil
}

// WriteFileAtomicBytes is WriteFileAtomic for a byte slice.
func WriteFileAtomicBytes(path string, data []byte) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteJSONAtomic writes v as indented JSON.
func WriteJSONAtomic(path string, v any) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// ReadJSON decodes the JSON file at path into a value of type T.
func ReadJSON[T any](path string) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, errors.Wrapf(err, "fsutil.ReadJSON: open %s", path)
	}
	defer f.Close()

	dest := new(T)
	if err := json.NewDecoder(f).Decode(dest); err != nil {
		return zero, errors.Wrapf(err, "fsutil.ReadJSON: decode %s", path)
	}
	return *dest, nil
}

// RemoveIfExists deletes path and reports whether something was removed.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "fsutil.RemoveIfExists: %s", path)
	}
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

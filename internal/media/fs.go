package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// FS abstracts the filesystem operations the pipeline needs so tests can
// substitute failing implementations. DiskFS is the production implementation.
type FS interface {
	Ensure(dir string) error
	Move(src, dst string) error
	Store(dst string, r io.Reader) (int64, error)
	Remove(dir string) error
	ListFiles(dir string) ([]string, error)
}

// DiskFS implements FS against the local filesystem.
type DiskFS struct{}

// Ensure creates the directory tree if absent. It is idempotent: repeated or
// concurrent calls for the same path succeed without racing.
func (DiskFS) Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure directory %s: %w", dir, err)
	}
	return nil
}

// Move relocates src to dst, overwriting any existing file. Rename is used
// when possible; a copy-and-remove fallback covers cross-device moves.
func (DiskFS) Move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	defer in.Close()
	if _, err := (DiskFS{}).Store(dst, in); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove moved source %s: %w", src, err)
	}
	return nil
}

// Store durably writes the stream to dst: the content lands in a temporary
// sibling first and is renamed into place, so a crash never leaves a
// half-written file under the final name.
func (DiskFS) Store(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", dst, err)
	}
	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("finalize %s: %w", dst, err)
	}
	return written, nil
}

// Remove deletes the directory tree rooted at dir. Removing an absent tree is
// not an error, which keeps cleanup idempotent.
func (DiskFS) Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// ListFiles returns the names of regular files directly inside dir.
func (DiskFS) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

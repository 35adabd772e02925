package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps bytes under a root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (f *FileStore) Root() string { return f.root }

func (f *FileStore) resolve(path string) (string, error) {
	local := filepath.FromSlash(path)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return filepath.Join(f.root, local), nil
}

// Write replaces path atomically: readers see the old or the new content,
// never a partial file.
func (f *FileStore) Write(path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (f *FileStore) Read(path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (f *FileStore) Delete(path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileStore) Exists(path string) bool {
	full, err := f.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

package segment

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ByteStore is a key-addressed byte store. Paths are slash-separated and
// relative to the store root.
type ByteStore interface {
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	// Delete ignores missing paths.
	Delete(path string) error
	Exists(path string) bool
}

// Store adds deterministic naming and reference resolution to a ByteStore.
type Store struct {
	ByteStore
	root    string
	baseURL string
}

// New wraps bs. root is the local directory backing bs and is used for
// file:// references when baseURL is empty.
func New(bs ByteStore, root, baseURL string) *Store {
	return &Store{ByteStore: bs, root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// PathFor names a verse segment: <chapterKey>-v<NNN>.<ext>.
func (s *Store) PathFor(chapterKey string, verse int, ext string) string {
	return fmt.Sprintf("%s-v%03d.%s", chapterKey, verse, strings.TrimPrefix(ext, "."))
}

// ManifestPathFor names a chapter playlist: <chapterKey>.m3u8.
func (s *Store) ManifestPathFor(chapterKey string) string {
	return chapterKey + ".m3u8"
}

// Ref returns a reference a player can resolve for path.
func (s *Store) Ref(path string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + path
	}
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		abs = filepath.Join(s.root, filepath.FromSlash(path))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

// FileStore keeps the cache in a single JSON file, replaced atomically on save.
type FileStore struct {
	path   string
	serial string
	now    func() time.Time
}

func NewFileStore(path, serial string) *FileStore {
	return &FileStore{path: path, serial: serial, now: time.Now}
}

func (s *FileStore) Path() string { return s.path }

// Load reads the cache file. A missing file yields an empty map.
func (s *FileStore) Load(ctx context.Context) (map[string]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]models.Observation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return decodeDocument(raw)
}

// Save writes to a temp file in the same directory, syncs it and renames it
// over the target, so a crash leaves either the old or the new document.
func (s *FileStore) Save(ctx context.Context, entries map[string]models.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeDocument(s.serial, entries, s.now())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

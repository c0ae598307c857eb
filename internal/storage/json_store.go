package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// collectionsSnapshot maps collection -> document id -> fields.
type collectionsSnapshot map[string]map[string]map[string]any

// JSONFile persists a MemoryStore snapshot to disk.
type JSONFile struct {
	mu       sync.Mutex
	filePath string
}

// NewJSONFile prepares a snapshot file at path, creating its directory.
func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &JSONFile{filePath: path}, nil
}

// Load returns the stored snapshot. A missing file yields an empty snapshot.
func (f *JSONFile) Load() (collectionsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := collectionsSnapshot{}
	file, err := os.Open(f.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename.
func (f *JSONFile) Save(snap collectionsSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tempFile := f.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}
	return os.Rename(tempFile, f.filePath)
}

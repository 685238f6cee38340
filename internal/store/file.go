package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/commentboard/backend/internal/models"
)

// FileStore keeps the dataset as one JSON document on disk. Saves go through
// a temp file in the same directory followed by a rename, so a crash mid-write
// never leaves a truncated dataset behind.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (models.Dataset, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return models.NewDataset(), nil
	}
	if err != nil {
		return models.Dataset{}, fmt.Errorf("read dataset %s: %w", s.path, err)
	}

	var dataset models.Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return models.Dataset{}, fmt.Errorf("decode dataset %s: %w", s.path, err)
	}
	return dataset, nil
}

func (s *FileStore) Save(ctx context.Context, dataset models.Dataset) error {
	data, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dataset dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace dataset %s: %w", s.path, err)
	}
	return nil
}

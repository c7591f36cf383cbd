package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

var ErrKeyRequired = errors.New("identity key is required")

// StoredResult is one entry of the result file.
type StoredResult struct {
	Key     string                   `json:"key"`
	Record  *models.ProductRecord    `json:"record"`
	Report  *models.ValidationReport `json:"report"`
	SavedAt time.Time                `json:"saved_at"`
}

// FileStore keeps compliance results in a single JSON file keyed by
// identity key. Every write replaces the file atomically.
type FileStore struct {
	mu       sync.RWMutex
	results  map[string]*StoredResult
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		results:  make(map[string]*StoredResult),
		filename: filename,
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}

	if err := fs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return fs, nil
}

// Save inserts or replaces the result for key. It satisfies pipeline.Sink.
func (fs *FileStore) Save(_ context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error {
	if key == "" {
		return ErrKeyRequired
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.results[key] = &StoredResult{
		Key:     key,
		Record:  record.Clone(),
		Report:  report.Clone(),
		SavedAt: time.Now(),
	}
	return fs.save()
}

func (fs *FileStore) Get(key string) (*StoredResult, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	res, ok := fs.results[key]
	if !ok {
		return nil, false
	}
	return copyResult(res), true
}

// List returns every stored result ordered by key.
func (fs *FileStore) List() []*StoredResult {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*StoredResult, 0, len(fs.results))
	for _, res := range fs.results {
		out = append(out, copyResult(res))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetStats counts stored results by overall status, plus "total".
func (fs *FileStore) GetStats() map[string]int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	stats := make(map[string]int)
	for _, res := range fs.results {
		if res.Report != nil {
			stats[string(res.Report.OverallStatus)]++
		}
	}
	stats["total"] = len(fs.results)
	return stats
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if err := os.Rename(tmpFile, fs.filename); err != nil {
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}

func (fs *FileStore) Load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	results := make(map[string]*StoredResult)
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("failed to decode %s: %w", fs.filename, err)
	}

	fs.mu.Lock()
	fs.results = results
	fs.mu.Unlock()
	return nil
}

func copyResult(res *StoredResult) *StoredResult {
	c := *res
	c.Record = res.Record.Clone()
	c.Report = res.Report.Clone()
	return &c
}

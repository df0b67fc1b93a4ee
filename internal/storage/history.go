// Package storage keeps a history of past runs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxItems bounds the file store.
const MaxItems = 100

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("history item not found")

// Store persists history items.
type Store interface {
	Save(item HistoryItem) error
	// List returns items newest first.
	List() ([]HistoryItem, error)
	Get(id string) (*HistoryItem, error)
	Close() error
}

type HistoryItem struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Config    RunConfig  `json:"config"`
	Summary   RunSummary `json:"summary"`
}

// RunConfig is the part of the run configuration worth remembering.
type RunConfig struct {
	URL             string   `json:"url"`
	DurationSeconds int      `json:"duration_seconds"`
	VUs             int      `json:"vus"`
	Thresholds      []string `json:"thresholds"`
}

type RunSummary struct {
	TotalRequests    uint64  `json:"total_requests"`
	Failed           uint64  `json:"failed"`
	Iterations       uint64  `json:"iterations"`
	ChecksPassed     uint64  `json:"checks_passed"`
	ChecksFailed     uint64  `json:"checks_failed"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	P99LatencyMs     float64 `json:"p99_latency_ms"`
	ThresholdsPassed bool    `json:"thresholds_passed"`
}

// NewItem stamps a fresh id and the current time.
func NewItem(cfg RunConfig, sum RunSummary) HistoryItem {
	return HistoryItem{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Config:    cfg,
		Summary:   sum,
	}
}

// Open picks a BoltStore for paths ending in .db and a FileStore
// otherwise. Parent directories are created.
func Open(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}
	if strings.HasSuffix(path, ".db") {
		return NewBoltStore(path)
	}
	return NewFileStore(path)
}

// DefaultPath is ~/.orderload/history.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".orderload", "history.json"), nil
}

// FileStore keeps the newest MaxItems entries in a JSON array file.
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	items    []HistoryItem
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{filePath: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return fmt.Errorf("decoding history %s: %w", s.filePath, err)
	}
	return nil
}

func (s *FileStore) Save(item HistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]HistoryItem{item}, s.items...)
	if len(s.items) > MaxItems {
		s.items = s.items[:MaxItems]
	}

	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

func (s *FileStore) List() ([]HistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]HistoryItem, len(s.items))
	copy(res, s.items)
	return res, nil
}

func (s *FileStore) Get(id string) (*HistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *FileStore) Close() error { return nil }

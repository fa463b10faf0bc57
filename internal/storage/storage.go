package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/state"
)

// RunRecord is the persisted outcome of one replay run.
type RunRecord struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Params     map[string]float64 `json:"params,omitempty"`
	RunID      string             `json:"run_id"`
	Label      string             `json:"label,omitempty"`
	Symbol     string             `json:"symbol"`
	Trades     []models.Trade     `json:"trades"`
	Statistics state.Statistics   `json:"statistics"`
}

// ResultStore keeps run records in a single JSON file.
// All methods are safe for concurrent use.
type ResultStore struct {
	data     *resultData
	filepath string
	mu       sync.RWMutex
}

type resultData struct {
	LastUpdated time.Time   `json:"last_updated"`
	Runs        []RunRecord `json:"runs"`
}

// NewResultStore opens the JSON file at path, loading existing runs if present.
func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: results path is empty", ErrInvalidInput)
	}
	s := &ResultStore{
		filepath: path,
		data:     &resultData{},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading results: %w", err)
		}
	}

	return s, nil
}

func (s *ResultStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath) // #nosec G304 -- path comes from configuration
	if err != nil {
		return err
	}

	var loaded resultData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	s.data = &loaded
	return nil
}

// save writes the file atomically. Caller must hold the write lock.
func (s *ResultStore) save() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating results directory: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// SaveRun adds a run, replacing any earlier record with the same RunID.
func (s *ResultStore) SaveRun(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Trades = append([]models.Trade(nil), rec.Trades...)
	replaced := false
	for i := range s.data.Runs {
		if s.data.Runs[i].RunID == rec.RunID {
			s.data.Runs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Runs = append(s.data.Runs, rec)
	}
	return s.save()
}

// Runs returns all runs, most recently finished first.
func (s *ResultStore) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunRecord, len(s.data.Runs))
	copy(out, s.data.Runs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	return out
}

// Run returns one run by id.
func (s *ResultStore) Run(id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.data.Runs {
		if r.RunID == id {
			return r, nil
		}
	}
	return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

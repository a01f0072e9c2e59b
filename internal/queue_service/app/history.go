package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ondepub/autopost/internal/core_domain"
)

// DispatchSummary is what one dispatch produced. It is also the completion history entry.
type DispatchSummary = core_domain.CompletionHistoryEntry

const DefaultHistorySize = 50

// CompletionHistory keeps the most recent dispatch summaries in memory.
// It starts empty on every process start; the oldest entry is evicted once capacity is reached.
type CompletionHistory struct {
	mu       sync.Mutex
	capacity int
	entries  []DispatchSummary
}

func NewCompletionHistory(capacity int) *CompletionHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &CompletionHistory{capacity: capacity, entries: make([]DispatchSummary, 0, capacity)}
}

func (h *CompletionHistory) Append(entry DispatchSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.capacity-1]
	}
	h.entries = append(h.entries, cloneSummary(entry))
}

// Snapshot returns the entries newest first.
func (h *CompletionHistory) Snapshot() []DispatchSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DispatchSummary, 0, len(h.entries))
	for i := len(h.entries) - 1; i >= 0; i-- {
		out = append(out, cloneSummary(h.entries[i]))
	}
	return out
}

func (h *CompletionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func cloneSummary(s DispatchSummary) DispatchSummary {
	c := s
	c.Results = make(map[string]core_domain.DispatchOutcome, len(s.Results))
	for k, v := range s.Results {
		c.Results[k] = v
	}
	c.Succeeded = append([]string{}, s.Succeeded...)
	c.Failed = append([]string{}, s.Failed...)
	return c
}

// DispatchJournal appends every dispatch summary to a JSON lines file so results
// survive restarts even though the in-memory history does not. A nil journal is a no-op.
type DispatchJournal struct {
	path string
	mu   sync.Mutex
}

func NewDispatchJournal(path string) (*DispatchJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &DispatchJournal{path: path}, nil
}

func (j *DispatchJournal) Append(summary DispatchSummary) error {
	if j == nil {
		return nil
	}
	line, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(line, '\n'))
	return err
}

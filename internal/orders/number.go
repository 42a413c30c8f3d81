package orders

import (
	"context"
	"fmt"
	"sync"
)

// Sequence hands out per-year order counters starting at 1.
type Sequence interface {
	Next(ctx context.Context, year int) (int64, error)
}

type MemorySequence struct {
	mu   sync.Mutex
	last map[int]int64
}

func NewMemorySequence() *MemorySequence {
	return &MemorySequence{last: make(map[int]int64)}
}

func (s *MemorySequence) Next(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[year]++
	return s.last[year], nil
}

// FormatNumber renders a human order number, e.g. WM-2024-000042.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq)
}

package recognizer

import (
	"context"
	"sync"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
)

// Static answers from a fixed table. Used in development when no
// recognition service is configured.
type Static struct {
	mu    sync.RWMutex
	table map[string]domain.PersonID
}

var _ service.Recognizer = (*Static)(nil)

func NewStatic(table map[string]domain.PersonID) *Static {
	s := &Static{table: make(map[string]domain.PersonID, len(table))}
	for ref, p := range table {
		s.table[ref] = p
	}
	return s
}

// Set maps ref to person, replacing any previous entry.
func (s *Static) Set(ref string, person domain.PersonID) {
	s.mu.Lock()
	s.table[ref] = person
	s.mu.Unlock()
}

func (s *Static) Identify(ctx context.Context, ref string) (domain.PersonID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	p, ok := s.table[ref]
	s.mu.RUnlock()
	return p, ok, nil
}

package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/turnos/pkg/pagination"
)

// Memory is a Store kept in process memory. It is used when no database is
// configured and in tests.
type Memory struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]*Entry), now: time.Now}
}

func (m *Memory) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *Memory) Resolve(_ context.Context, id uuid.UUID, outcome Outcome, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	e.Outcome = outcome
	e.Error = errText
	e.ResolvedAt = &now
	return nil
}

func (m *Memory) List(_ context.Context, outcome Outcome, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Entry
	for _, e := range m.entries {
		if outcome == "" || e.Outcome == outcome {
			cp := *e
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start, end := pagination.Window(total, limit, offset)
	if start == end {
		return nil, total, nil
	}
	return all[start:end], total, nil
}

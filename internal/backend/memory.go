package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Change is one recorded state change of the in-memory backend.
type Change struct {
	ID int
	On bool
}

// Memory keeps light states in memory. Used for dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	count   int
	lit     map[int]bool
	history []Change
}

func NewMemory(count int) *Memory {
	return &Memory{count: count, lit: make(map[int]bool)}
}

func (m *Memory) Count() int { return m.count }

func (m *Memory) SetState(id int, on bool) error {
	if id < 0 || id >= m.count {
		return fmt.Errorf("memory backend: id %d out of range [0, %d)", id, m.count)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.lit[id] = true
	} else {
		delete(m.lit, id)
	}
	m.history = append(m.history, Change{ID: id, On: on})
	return nil
}

func (m *Memory) Blackout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lit = make(map[int]bool)
	return nil
}

// Lit returns the ids that are currently on, in ascending order.
func (m *Memory) Lit() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.lit))
	for id := range m.lit {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Memory) History() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.history...)
}

func (m *Memory) Close() error { return nil }

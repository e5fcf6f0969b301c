package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// Defaults of the in-memory query cache
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 100
	DefaultPruneTo    = 80
)

type entry struct {
	result   *model.QueryResult
	storedAt time.Time
}

// Memory is a process-local TTL cache of query results. When the number of entries
// exceeds the maximum, the oldest entries are evicted down to the prune target.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	pruneTo    int
	now        func() time.Time
}

// MemoryOption is a functional option for Memory
type MemoryOption func(*Memory)

// WithTTL sets how long an entry is served
func WithTTL(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = d
	}
}

// WithMaxEntries sets the capacity and the size kept after pruning
func WithMaxEntries(maxEntries, pruneTo int) MemoryOption {
	return func(m *Memory) {
		m.maxEntries = maxEntries
		m.pruneTo = pruneTo
	}
}

// NewMemory creates an in-memory query cache
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:    make(map[string]*entry),
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		pruneTo:    DefaultPruneTo,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pruneTo > m.maxEntries || m.pruneTo < 0 {
		m.pruneTo = m.maxEntries
	}
	return m
}

// Get returns the cached result or nil when absent or expired
func (m *Memory) Get(_ context.Context, key string) (*model.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(e.storedAt) >= m.ttl {
		delete(m.entries, key)
		return nil, nil
	}
	return e.result, nil
}

// Set stores result under key
func (m *Memory) Set(_ context.Context, key string, result *model.QueryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &entry{result: result, storedAt: m.now()}
	if len(m.entries) > m.maxEntries {
		m.prune()
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) prune() {
	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.storedAt) >= m.ttl {
			delete(m.entries, k)
		}
	}
	if len(m.entries) <= m.pruneTo {
		return
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return m.entries[a].storedAt.Compare(m.entries[b].storedAt)
	})
	for _, k := range keys[:len(keys)-m.pruneTo] {
		delete(m.entries, k)
	}
}

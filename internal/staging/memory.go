package staging

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a Store backed by process memory. It is the store used in tests
// and when staging is disabled on disk.
type Memory struct {
	mu     sync.Mutex
	metas  map[string]Meta
	chunks map[string]map[int][]byte
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		metas:  make(map[string]Meta),
		chunks: make(map[string]map[int][]byte),
	}
}

func (m *Memory) SaveMeta(_ context.Context, key string, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Error.New("store closed")
	}
	m.metas[key] = meta
	return nil
}

func (m *Memory) LoadMeta(_ context.Context, key string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metas[key]
	if !ok {
		return Meta{}, notFound("meta " + key)
	}
	return meta, nil
}

func (m *Memory) SaveChunk(_ context.Context, key string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Error.New("store closed")
	}
	byIndex, ok := m.chunks[key]
	if !ok {
		byIndex = make(map[int][]byte)
		m.chunks[key] = byIndex
	}
	byIndex[index] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) LoadChunk(_ context.Context, key string, index int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.chunks[key][index]
	if !ok {
		return nil, notFound(fmt.Sprintf("chunk %s/%d", key, index))
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, key)
	delete(m.chunks, key)
	return nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, meta := range m.metas {
		if meta.Timestamp.Before(cutoff) {
			delete(m.metas, key)
			delete(m.chunks, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

package storage

import (
	"context"
	"sync"

	"github.com/faultline/faultline/internal/config"
)

// Memory is a process-local backend for tests and throwaway sessions.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte

	failWrites error
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// FailWrites makes every subsequent Set return err; nil restores writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

func (m *Memory) Name() string { return config.BackendMemory }

func (m *Memory) Close() error { return nil }

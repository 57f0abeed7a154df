package objectstore

import (
	"context"
	"net/url"
	"sync"
)

// Memory keeps objects in process. URLs use the memory:// scheme and are
// only meaningful to tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) PutObject(_ context.Context, name string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) GetObject(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, storageErr("get", name, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) DeleteObject(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *Memory) PresignedGetURL(_ context.Context, name string) (string, error) {
	return (&url.URL{Scheme: "memory", Path: "/" + name}).String(), nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory ObjectStore for tests and throwaway
// environments. It is safe for concurrent use.
type MemoryStore struct {
	baseURL string

	mu        sync.RWMutex
	objects   map[string]memoryObject
	putErr    error
	deleteErr error
	putCalls  int
	deletes   []string
}

type memoryObject struct {
	ContentType string
	Data        []byte
}

// NewMemoryStore creates an empty store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putCalls++
	if m.putErr != nil {
		return "", m.putErr
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	m.objects[key] = memoryObject{ContentType: contentType, Data: copied}
	return m.PublicURL(key), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) IsConfigured() bool { return true }

func (m *MemoryStore) PublicURL(key string) string { return joinURL(m.baseURL, key) }

// Get returns the stored bytes for key.
func (m *MemoryStore) Get(key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return obj.Data, obj.ContentType, nil
}

// Keys lists stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailPuts makes every following Put return err (nil clears it).
func (m *MemoryStore) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// FailDeletes makes every following Delete return err (nil clears it).
func (m *MemoryStore) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

func (m *MemoryStore) PutCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.putCalls
}

// DeletedKeys returns every key Delete was called with, in call order.
func (m *MemoryStore) DeletedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deletes...)
}

var _ ObjectStore = (*MemoryStore)(nil)

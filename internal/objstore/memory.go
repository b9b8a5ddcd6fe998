package objstore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Object is a stored body plus the options it was written with.
type Object struct {
	Body []byte
	Opts PutOptions
}

// MemoryBucket is an in-process Bucket for tests and dry runs.
type MemoryBucket struct {
	name string

	mu      sync.RWMutex
	objects map[string]Object
	puts    int

	// PutErr, when set, is returned by every Put.
	PutErr error
}

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, objects: make(map[string]Object)}
}

func (m *MemoryBucket) Name() string { return m.name }

func (m *MemoryBucket) Put(_ context.Context, key string, body []byte, opts PutOptions) error {
	if m.PutErr != nil {
		return eris.Wrapf(m.PutErr, "objstore: put %s/%s", m.name, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Body: slices.Clone(body), Opts: opts}
	m.puts++
	return nil
}

func (m *MemoryBucket) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "objstore: get %s/%s", m.name, key)
	}
	return slices.Clone(obj.Body), nil
}

func (m *MemoryBucket) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Object returns the stored object for key.
func (m *MemoryBucket) Object(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns every stored key, sorted.
func (m *MemoryBucket) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.objects))
}

// Puts returns how many Puts succeeded, overwrites included.
func (m *MemoryBucket) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

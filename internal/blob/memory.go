package blob

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memObject struct {
	info Info
	data []byte
}

// Memory is an in-process Store, used by tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	objs map[string]memObject
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{objs: make(map[string]memObject)} }

// Driver returns DriverMemory.
func (s *Memory) Driver() Driver { return DriverMemory }

// Put stores a copy of data; fails if key exists.
func (s *Memory) Put(_ context.Context, key string, data []byte, contentType string) (Info, error) {
	if _, err := cleanKey(key); err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	info := Info{Key: key, Size: int64(len(cp)), ContentType: contentType, LastModified: time.Now().UTC()}
	s.objs[key] = memObject{info: info, data: cp}
	return info, nil
}

// Get returns a copy of the stored bytes.
func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// Exists reports whether key is stored.
func (s *Memory) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objs[key]
	return ok, nil
}

// Len returns the number of stored objects.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}

package storage

import (
	"context"
	"strconv"
	"sync"
)

type memoryRecord struct {
	value   []byte
	version uint64
}

// Memory keeps records in process memory. It backs tests and single process
// deployments.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	seq     uint64
}

func NewMemory() *Memory {
	return &Memory{records: map[string]memoryRecord{}}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := m.GetVersion(ctx, key)
	return v, err
}

func (m *Memory) GetVersion(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), rec.value...), strconv.FormatUint(rec.version, 10), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value)
	return nil
}

func (m *Memory) SetIfVersion(_ context.Context, key string, value []byte, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	switch {
	case version == "" && ok:
		return ErrConcurrencyConflict
	case version != "" && (!ok || strconv.FormatUint(rec.version, 10) != version):
		return ErrConcurrencyConflict
	}
	m.putLocked(key, value)
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) putLocked(key string, value []byte) {
	m.seq++
	m.records[key] = memoryRecord{value: append([]byte(nil), value...), version: m.seq}
}

// Package localstore keeps the small amount of state that must survive a
// page reload: the current user's ID, per browser device.
package localstore

import (
	"context"
	"sync"
)

// CurrentUserKey is the key holding the cached current user ID.
const CurrentUserKey = "currentUser"

// Store holds string values scoped to a device.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, device, key string) (string, bool, error)
	Set(ctx context.Context, device, key, value string) error
	Delete(ctx context.Context, device, key string) error
}

var _ Store = (*Memory)(nil)

// Memory is a process-local Store. Values are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, device, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[device][key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, device, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[device] == nil {
		m.data[device] = make(map[string]string)
	}
	m.data[device][key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, device, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[device], key)
	if len(m.data[device]) == 0 {
		delete(m.data, device)
	}
	return nil
}

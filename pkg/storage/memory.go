package storage

import (
	"context"
	"sync"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
	return nil
}

// MemorySiteData is a SiteData kept in process memory.
type MemorySiteData struct {
	mu      sync.RWMutex
	domains map[string]map[string]string
}

func NewMemorySiteData() *MemorySiteData {
	return &MemorySiteData{domains: make(map[string]map[string]string)}
}

func (m *MemorySiteData) Get(_ context.Context, domain, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.domains[domain][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemorySiteData) Set(_ context.Context, domain, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.domains[domain]
	if !ok {
		site = make(map[string]string)
		m.domains[domain] = site
	}
	site[key] = value
	return nil
}

func (m *MemorySiteData) ClearSite(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, domain)
	return nil
}

package llm

import (
	"context"
	"sync"
)

// MockGenerator is a configurable SQLGenerator for tests.
type MockGenerator struct {
	// GenerateFunc is called by GenerateSQL. When nil, SQL is returned.
	GenerateFunc func(ctx context.Context, req GenerationRequest) (string, error)
	SQL          string

	mu       sync.Mutex
	Requests []GenerationRequest
}

// NewMockGenerator returns a mock that always answers sql.
func NewMockGenerator(sql string) *MockGenerator {
	return &MockGenerator{SQL: sql}
}

func (m *MockGenerator) GenerateSQL(ctx context.Context, req GenerationRequest) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return m.SQL, nil
}

func (m *MockGenerator) Model() string {
	return "mock-model"
}

// Calls returns how many times GenerateSQL was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

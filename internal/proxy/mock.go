package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"quern/pkg/qerrors"
	"quern/pkg/types"
)

// MockRegistry is the ordered list of synthetic-response rules. Insertion
// order is priority order; mocks are always evaluated before the intercept
// filter (see Engine.BeginRequest).
type MockRegistry struct {
	mu    sync.Mutex
	rules []types.MockRule
}

// NewMockRegistry creates an empty mock registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{}
}

// Add appends a new mock rule and returns its assigned id.
func (m *MockRegistry) Add(filter string, status int, headers map[string]string, body []byte) types.MockRule {
	rule := types.MockRule{
		ID:        uuid.NewString(),
		Filter:    filter,
		Status:    status,
		Headers:   headers,
		Body:      body,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.rules = append(m.rules, rule)
	m.mu.Unlock()
	return rule
}

// List returns the rules in priority order.
func (m *MockRegistry) List() []types.MockRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MockRule, len(m.rules))
	copy(out, m.rules)
	return out
}

// Update patches an existing rule in place, preserving its list position —
// the spec leaves PATCH ordering ambiguous and this implementation prefers
// preserve over move-to-end.
func (m *MockRegistry) Update(id string, filter *string, status *int, headers map[string]string, body []byte) (types.MockRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID != id {
			continue
		}
		if filter != nil {
			m.rules[i].Filter = *filter
		}
		if status != nil {
			m.rules[i].Status = *status
		}
		if headers != nil {
			m.rules[i].Headers = headers
		}
		if body != nil {
			m.rules[i].Body = body
		}
		return m.rules[i], nil
	}
	return types.MockRule{}, qerrors.Newf(qerrors.NotFound, "mock rule %s not found", id)
}

// Remove deletes a rule by id.
func (m *MockRegistry) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rule := range m.rules {
		if rule.ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return qerrors.Newf(qerrors.NotFound, "mock rule %s not found", id)
}

// Match returns the first rule (in priority order) whose filter matches
// flow, or false if none do.
func (m *MockRegistry) Match(flow *types.Flow) (types.MockRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules {
		if MatchesLocal(rule.Filter, flow) {
			return rule, true
		}
	}
	return types.MockRule{}, false
}

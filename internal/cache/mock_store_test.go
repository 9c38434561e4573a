package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// mockStore implements service.Store over in-memory maps, counting calls so
// tests can assert which lookups reached the system-of-record.
type mockStore struct {
	failErr    error
	patterns   map[int64]*model.Pattern
	composites map[int64]*model.CompositePattern
	prefs      map[string]*model.UserCategoryPreference

	delay          time.Duration
	patternCalls   int
	queryCalls     int
	activeCalls    int
	compositeCalls int
	prefCalls      int

	mu sync.Mutex
}

func newMockStore() *mockStore {
	return &mockStore{
		patterns:   make(map[int64]*model.Pattern),
		composites: make(map[int64]*model.CompositePattern),
		prefs:      make(map[string]*model.UserCategoryPreference),
	}
}

func (m *mockStore) addPattern(p *model.Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.ID] = p
}

func (m *mockStore) addComposite(cp *model.CompositePattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composites[cp.ID] = cp
}

func (m *mockStore) addPreference(p *model.UserCategoryPreference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.ContextValue] = p
}

func (m *mockStore) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *mockStore) setDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *mockStore) calls() (pattern, query, active, composite, pref int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patternCalls, m.queryCalls, m.activeCalls, m.compositeCalls, m.prefCalls
}

func (m *mockStore) GetPattern(_ context.Context, id int64) (*model.Pattern, error) {
	m.mu.Lock()
	m.patternCalls++
	delay := m.delay
	fail := m.failErr
	p, ok := m.patterns[id]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}
	if !ok {
		return nil, common.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) GetPatterns(_ context.Context, filter service.PatternFilter) ([]model.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}

	var out []model.Pattern
	for _, p := range m.patterns {
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	if filter.OrderByUsage {
		sort.Slice(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) GetActivePatterns(_ context.Context) ([]model.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []model.Pattern
	for _, p := range m.patterns {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetCompositePattern(_ context.Context, id int64) (*model.CompositePattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compositeCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	cp, ok := m.composites[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cp, nil
}

func (m *mockStore) GetActiveCompositePatterns(_ context.Context) ([]model.CompositePattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compositeCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []model.CompositePattern
	for _, cp := range m.composites {
		if cp.Active {
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetPreference(_ context.Context, _, contextValue string) (*model.UserCategoryPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	p, ok := m.prefs[contextValue]
	if !ok {
		return nil, common.ErrNotFound
	}
	return p, nil
}

// Remaining Store methods are unused by the cache.

func (m *mockStore) CreatePattern(_ context.Context, _ *model.Pattern) error { return nil }
func (m *mockStore) UpdatePattern(_ context.Context, _ *model.Pattern) error { return nil }
func (m *mockStore) RecordPatternUsage(_ context.Context, _ int64, _ bool) error {
	return nil
}
func (m *mockStore) AdjustPatternWeight(_ context.Context, _ int64, _ float64) error { return nil }
func (m *mockStore) DeletePattern(_ context.Context, _ int64) error                  { return nil }
func (m *mockStore) GetPatternsByCategory(_ context.Context, _ int64) ([]model.Pattern, error) {
	return nil, nil
}
func (m *mockStore) CreateCompositePattern(_ context.Context, _ *model.CompositePattern) error {
	return nil
}
func (m *mockStore) DeleteCompositePattern(_ context.Context, _ int64) error { return nil }
func (m *mockStore) GetCategories(_ context.Context) ([]model.Category, error) {
	return nil, nil
}
func (m *mockStore) GetCategoryByID(_ context.Context, _ int64) (*model.Category, error) {
	return nil, common.ErrNotFound
}
func (m *mockStore) GetCategoryByName(_ context.Context, _ string) (*model.Category, error) {
	return nil, common.ErrNotFound
}
func (m *mockStore) CreateCategory(_ context.Context, name string) (*model.Category, error) {
	return &model.Category{Name: name}, nil
}
func (m *mockStore) GetPreferences(_ context.Context) ([]model.UserCategoryPreference, error) {
	return nil, nil
}
func (m *mockStore) UpsertPreference(_ context.Context, _ *model.UserCategoryPreference) error {
	return nil
}
func (m *mockStore) DeletePreference(_ context.Context, _ int64) error { return nil }
func (m *mockStore) SaveExpense(_ context.Context, _ *model.Expense) error {
	return nil
}
func (m *mockStore) GetExpense(_ context.Context, _ int64) (*model.Expense, error) {
	return nil, common.ErrNotFound
}
func (m *mockStore) GetExpenses(_ context.Context, _ service.ExpenseFilter) ([]model.Expense, error) {
	return nil, nil
}
func (m *mockStore) UpdateExpenseCategorization(_ context.Context, _, _ int64, _ float64) error {
	return nil
}
func (m *mockStore) Migrate(_ context.Context) error               { return nil }
func (m *mockStore) BeginTx(_ context.Context) (service.Tx, error) { return nil, nil }
func (m *mockStore) Close() error                                  { return nil }

// fakeDistributed implements service.DistributedCache in memory with
// switchable failures.
type fakeDistributed struct {
	failErr error
	data    map[string][]byte
	gets    int
	sets    int
	mu      sync.Mutex
}

func newFakeDistributed() *fakeDistributed {
	return &fakeDistributed{data: make(map[string][]byte)}
}

func (f *fakeDistributed) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeDistributed) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failErr != nil {
		return nil, false, f.failErr
	}
	data, ok := f.data[key]
	return data, ok, nil
}

func (f *fakeDistributed) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.failErr != nil {
		return f.failErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeDistributed) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeDistributed) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	var out []string
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeDistributed) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and database-less runs.
type MemoryStore struct {
	mu           sync.RWMutex
	actions      map[int64]*Action
	logs         map[int64]*ActivityLog
	nextActionID int64
	nextLogID    int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[int64]*Action),
		logs:    make(map[int64]*ActivityLog),
	}
}

func copyAction(a *Action) *Action {
	cp := *a
	cp.Properties = a.Properties.Clone()
	return &cp
}

func copyLog(l *ActivityLog) *ActivityLog {
	cp := *l
	cp.Properties = l.Properties.Clone()
	return &cp
}

// nameTaken must be called with mu held.
func (m *MemoryStore) nameTaken(userID, exceptID int64, name string) bool {
	for _, a := range m.actions {
		if a.UserID == userID && a.ID != exceptID && a.Name == name {
			return true
		}
	}
	return false
}

// ownedAction must be called with mu held.
func (m *MemoryStore) ownedAction(userID, actionID int64) (*Action, bool) {
	a, ok := m.actions[actionID]
	if !ok || a.UserID != userID {
		return nil, false
	}
	return a, true
}

func (m *MemoryStore) CreateAction(_ context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTaken(a.UserID, 0, a.Name) {
		return ErrDuplicateAction
	}
	m.nextActionID++
	a.ID = m.nextActionID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.actions[a.ID] = copyAction(a)
	return nil
}

func (m *MemoryStore) GetAction(_ context.Context, userID, actionID int64) (*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.ownedAction(userID, actionID)
	if !ok {
		return nil, ErrActionNotFound
	}
	return copyAction(a), nil
}

// ListActions returns the user's actions ordered by name.
func (m *MemoryStore) ListActions(_ context.Context, userID int64) ([]*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Action{}
	for _, a := range m.actions {
		if a.UserID == userID {
			result = append(result, copyAction(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (m *MemoryStore) UpdateAction(_ context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.ownedAction(a.UserID, a.ID)
	if !ok {
		return ErrActionNotFound
	}
	if m.nameTaken(a.UserID, a.ID, a.Name) {
		return ErrDuplicateAction
	}
	updated := copyAction(a)
	updated.CreatedAt = existing.CreatedAt
	m.actions[a.ID] = updated
	return nil
}

func (m *MemoryStore) DeleteAction(_ context.Context, userID, actionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ownedAction(userID, actionID); !ok {
		return ErrActionNotFound
	}
	delete(m.actions, actionID)
	for id, l := range m.logs {
		if l.ActionID == actionID {
			delete(m.logs, id)
		}
	}
	return nil
}

func (m *MemoryStore) CreateLog(_ context.Context, l *ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actions[l.ActionID]; !ok {
		return ErrActionNotFound
	}
	m.nextLogID++
	l.ID = m.nextLogID
	m.logs[l.ID] = copyLog(l)
	return nil
}

func (m *MemoryStore) GetLog(_ context.Context, userID, logID int64) (*ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.logs[logID]
	if !ok {
		return nil, ErrLogNotFound
	}
	if _, owned := m.ownedAction(userID, l.ActionID); !owned {
		return nil, ErrLogNotFound
	}
	return copyLog(l), nil
}

// UpdateLog replaces delta, note and properties. The timestamp and action are kept.
func (m *MemoryStore) UpdateLog(_ context.Context, l *ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.logs[l.ID]
	if !ok {
		return ErrLogNotFound
	}
	existing.Delta = l.Delta
	existing.Note = l.Note
	existing.Properties = l.Properties.Clone()
	return nil
}

func (m *MemoryStore) ListLogs(_ context.Context, userID, actionID int64, opts ListLogsOptions) ([]*ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.ownedAction(userID, actionID); !ok {
		return nil, ErrActionNotFound
	}

	result := []*ActivityLog{}
	for _, l := range m.logs {
		if l.ActionID == actionID && opts.Cursor.Before(l.Timestamp, l.ID) {
			result = append(result, copyLog(l))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Events(_ context.Context, userID, actionID int64, since, until time.Time) ([]*ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.ownedAction(userID, actionID); !ok {
		return nil, ErrActionNotFound
	}

	result := []*ActivityLog{}
	for _, l := range m.logs {
		if l.ActionID == actionID && inWindow(l.Timestamp, since, until) {
			result = append(result, copyLog(l))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (m *MemoryStore) Totals(_ context.Context, userID int64, since, until time.Time) (map[int64]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[int64]int64)
	for _, l := range m.logs {
		a, ok := m.actions[l.ActionID]
		if !ok || a.UserID != userID || !inWindow(l.Timestamp, since, until) {
			continue
		}
		totals[l.ActionID] += l.Delta
	}
	return totals, nil
}

func (m *MemoryStore) DeleteOwner(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.actions {
		if a.UserID != userID {
			continue
		}
		for lid, l := range m.logs {
			if l.ActionID == id {
				delete(m.logs, lid)
			}
		}
		delete(m.actions, id)
	}
	return nil
}

func inWindow(ts, since, until time.Time) bool {
	return !ts.Before(since) && !ts.After(until)
}

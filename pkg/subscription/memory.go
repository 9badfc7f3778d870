package subscription

import (
	"context"
	"sort"
	"sync"

	"github.com/livelaunch/platform/pkg/common/models"
)

// Memory is an in-process Directory for single-node runs and tests.
type Memory struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
}

func NewMemory(workspaces ...Workspace) *Memory {
	m := &Memory{workspaces: make(map[string]Workspace, len(workspaces))}
	for _, w := range workspaces {
		m.workspaces[w.ID] = w
	}
	return m
}

func (m *Memory) Put(w Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[w.ID] = w
}

func (m *Memory) Get(id string) (Workspace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workspaces[id]
	return w, ok
}

func (m *Memory) CalendarWorkspaces(ctx context.Context) ([]Workspace, error) {
	return m.filter(func(w Workspace) bool { return w.CalendarEnabled() }), nil
}

func (m *Memory) StatusSubscribers(ctx context.Context, category Category, kind models.Kind) ([]Workspace, error) {
	return m.filter(func(w Workspace) bool {
		return w.Notification.Configured() && w.NotifiesKind(kind) && w.Subscribed(category)
	}), nil
}

func (m *Memory) MediaSubscribers(ctx context.Context) ([]Workspace, error) {
	return m.filter(func(w Workspace) bool { return w.Media.Configured() }), nil
}

func (m *Memory) DisableCalendar(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	w.CalendarMaxEntries = 0
	m.workspaces[workspaceID] = w
	return nil
}

func (m *Memory) ClearDestination(ctx context.Context, workspaceID string, target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	switch target {
	case TargetMedia:
		w.Media = Destination{}
	case TargetNotification:
		w.Notification = Destination{}
	}
	m.workspaces[workspaceID] = w
	return nil
}

func (m *Memory) filter(keep func(Workspace) bool) []Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Workspace
	for _, w := range m.workspaces {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

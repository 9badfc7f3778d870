package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
)

type linkKey struct {
	workspaceID string
	eventID     string
}

// MemoryStore is an in-process Store. It backs single-node runs without
// Postgres (CACHE_BACKEND=memory) and the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string]models.EventRecord
	agencies  map[int]models.Agency
	links     map[linkKey]models.CalendarEntryLink
	sentMedia map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]models.EventRecord),
		agencies:  make(map[int]models.Agency),
		links:     make(map[linkKey]models.CalendarEntryLink),
		sentMedia: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Events(ctx context.Context) ([]models.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EventRecord, 0, len(m.events))
	for _, rec := range m.events {
		out = append(out, rec)
	}
	sortEvents(out)
	return out, nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, id string) (models.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.events[id]
	if !ok {
		return models.EventRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) PutEvent(ctx context.Context, rec models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[rec.ID] = rec
	return nil
}

func (m *MemoryStore) DeleteEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	for key := range m.links {
		if key.eventID == id {
			delete(m.links, key)
		}
	}
	return nil
}

func (m *MemoryStore) PutAgency(ctx context.Context, agency models.Agency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agencies[agency.ID] = agency
	return nil
}

func (m *MemoryStore) GetAgency(ctx context.Context, id int) (models.Agency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agency, ok := m.agencies[id]
	if !ok {
		return models.Agency{}, ErrNotFound
	}
	return agency, nil
}

func (m *MemoryStore) LinksByEvent(ctx context.Context, eventID string) ([]models.CalendarEntryLink, error) {
	return m.filterLinks(func(l models.CalendarEntryLink) bool { return l.EventID == eventID }), nil
}

func (m *MemoryStore) LinksByWorkspace(ctx context.Context, workspaceID string) ([]models.CalendarEntryLink, error) {
	return m.filterLinks(func(l models.CalendarEntryLink) bool { return l.WorkspaceID == workspaceID }), nil
}

func (m *MemoryStore) LinkWorkspaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range m.links {
		seen[key.workspaceID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) PutLink(ctx context.Context, link models.CalendarEntryLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	m.links[linkKey{link.WorkspaceID, link.EventID}] = link
	return nil
}

func (m *MemoryStore) DeleteLink(ctx context.Context, workspaceID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, linkKey{workspaceID, eventID})
	return nil
}

func (m *MemoryStore) SentMediaExists(ctx context.Context, mediaID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sentMedia[mediaID]
	return ok, nil
}

func (m *MemoryStore) MarkSentMedia(ctx context.Context, mediaID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sentMedia[mediaID]; ok {
		return false, nil
	}
	m.sentMedia[mediaID] = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) filterLinks(keep func(models.CalendarEntryLink) bool) []models.CalendarEntryLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CalendarEntryLink
	for _, l := range m.links {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkspaceID != out[j].WorkspaceID {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

func sortEvents(events []models.EventRecord) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}

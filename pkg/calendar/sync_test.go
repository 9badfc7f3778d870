package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/subscription"
)

type stubPlatform struct {
	mu        sync.Mutex
	seq       int
	created   map[string]EntrySpec
	patches   []EntryPatch
	deleted   []string
	createErr error
	updateErr error
	deleteErr error
}

func (p *stubPlatform) Create(ctx context.Context, workspaceID string, spec EntrySpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.seq++
	id := fmt.Sprintf("%s-%d", workspaceID, p.seq)
	if p.created == nil {
		p.created = map[string]EntrySpec{}
	}
	p.created[id] = spec
	return id, nil
}

func (p *stubPlatform) Update(ctx context.Context, workspaceID, externalID string, patch EntryPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patches = append(p.patches, patch)
	return p.updateErr
}

func (p *stubPlatform) Delete(ctx context.Context, workspaceID, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, externalID)
	return p.deleteErr
}

func calendarWorkspace(id string, max int) subscription.Workspace {
	return subscription.Workspace{
		ID:                   id,
		CalendarMaxEntries:   max,
		CalendarLaunches:     true,
		CalendarIncludeNoURL: true,
	}
}

func newSync(t *testing.T, p Platform, workspaces ...subscription.Workspace) (*Synchronizer, *cache.MemoryStore, *subscription.Memory) {
	t.Helper()
	store := cache.NewMemoryStore()
	dir := subscription.NewMemory(workspaces...)
	return NewSynchronizer(p, store, dir, WithClock(clock.NewManual(now))), store, dir
}

func putLink(t *testing.T, store *cache.MemoryStore, workspaceID, eventID string, state models.EntryState) models.CalendarEntryLink {
	t.Helper()
	link := models.CalendarEntryLink{WorkspaceID: workspaceID, ExternalID: workspaceID + "-" + eventID, EventID: eventID, State: state, CreatedAt: now}
	require.NoError(t, store.PutLink(context.Background(), link))
	return link
}

func changeSet(cached, fresh models.EventRecord) diff.ChangeSet {
	d := diff.NewDiffer(models.NewStatusSet(models.StatusSuccess), models.NewStatusSet())
	return d.Diff(&cached, fresh, now)
}

func TestConvergeRespectsEntryCap(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 2))

	events := []models.EventRecord{launch(3 * time.Hour), launch(time.Hour), launch(2 * time.Hour)}
	events[0].ID, events[1].ID, events[2].ID = "late", "first", "second"

	res, err := s.Converge(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	links, err := store.LinksByWorkspace(context.Background(), "w1")
	require.NoError(t, err)
	var ids []string
	for _, l := range links {
		ids = append(ids, l.EventID)
		assert.Equal(t, models.EntryScheduled, l.State)
	}
	assert.ElementsMatch(t, []string{"first", "second"}, ids)
}

func TestConvergeDropsUnwantedAndSkips(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 5))
	putLink(t, store, "w1", "stale", models.EntryScheduled)

	keep := launch(time.Hour)
	keep.ID = "keep"
	skipped := launch(2 * time.Hour)
	skipped.ID = "skipped"

	res, err := s.Converge(context.Background(), []models.EventRecord{keep, skipped}, map[string]bool{"skipped": true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"w1-stale"}, p.deleted)

	links, _ := store.LinksByWorkspace(context.Background(), "w1")
	require.Len(t, links, 1)
	assert.Equal(t, "keep", links[0].EventID)
}

func TestConvergeClearsDisabledWorkspace(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 0))
	putLink(t, store, "w1", "e1", models.EntryLive)

	res, err := s.Converge(context.Background(), []models.EventRecord{launch(time.Hour)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	links, _ := store.LinksByEvent(context.Background(), "e1")
	assert.Empty(t, links)
}

func TestConvergeCreateRejectedDisablesWorkspace(t *testing.T) {
	p := &stubPlatform{createErr: &APIError{Status: 403, Code: 50013, Message: "Missing Permissions"}}
	s, _, dir := newSync(t, p, calendarWorkspace("w1", 3))

	res, err := s.Converge(context.Background(), []models.EventRecord{launch(time.Hour)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, res.Disabled)
	w, _ := dir.Get("w1")
	assert.False(t, w.CalendarEnabled())
}

func TestConvergeCreateTransientRetriesLater(t *testing.T) {
	p := &stubPlatform{createErr: &APIError{Status: 502, Message: "Bad Gateway"}}
	s, store, dir := newSync(t, p, calendarWorkspace("w1", 3))

	res, err := s.Converge(context.Background(), []models.EventRecord{launch(time.Hour)}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, res.Disabled)
	w, _ := dir.Get("w1")
	assert.True(t, w.CalendarEnabled())

	p.createErr = nil
	res, err = s.Converge(context.Background(), []models.EventRecord{launch(time.Hour)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	links, _ := store.LinksByEvent(context.Background(), "e1")
	assert.Len(t, links, 1)
}

func TestApplyUpdatesEveryLink(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 3), calendarWorkspace("w2", 3))
	putLink(t, store, "w1", "e1", models.EntryScheduled)
	putLink(t, store, "w2", "e1", models.EntryScheduled)

	cached := launch(2 * time.Hour)
	fresh := cached
	fresh.Name = "Falcon 9 | Starlink 12-1"
	res, err := s.Apply(context.Background(), changeSet(cached, fresh))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.False(t, res.Transient)
	require.Len(t, p.patches, 2)
	assert.True(t, p.patches[0].Fields.Has(diff.FieldName))
}

func TestApplyGoLivePersistsState(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 3))
	putLink(t, store, "w1", "e1", models.EntryScheduled)

	rec := launch(30 * time.Second)
	res, err := s.Apply(context.Background(), changeSet(rec, rec))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	links, _ := store.LinksByEvent(context.Background(), "e1")
	require.Len(t, links, 1)
	assert.Equal(t, models.EntryLive, links[0].State)
	require.Len(t, p.patches, 1)
	assert.True(t, p.patches[0].Activate)
}

func TestApplyFailureClasses(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		links     int
		transient bool
		disabled  bool
	}{
		{name: "transient", err: errors.New("connection reset"), links: 1, transient: true},
		{name: "rate limited", err: &APIError{Status: 429, Message: "slow down"}, links: 1, transient: true},
		{name: "entry gone", err: &APIError{Status: 404, Code: 10070, Message: "Unknown Guild Scheduled Event"}, links: 0},
		{name: "permission", err: &APIError{Status: 403, Code: 50013, Message: "Missing Permissions"}, links: 0, disabled: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubPlatform{updateErr: tc.err}
			s, store, dir := newSync(t, p, calendarWorkspace("w1", 3))
			putLink(t, store, "w1", "e1", models.EntryScheduled)

			cached := launch(2 * time.Hour)
			fresh := cached
			fresh.Name = "renamed"
			res, err := s.Apply(context.Background(), changeSet(cached, fresh))
			require.NoError(t, err)
			assert.Equal(t, tc.transient, res.Transient)

			links, _ := store.LinksByEvent(context.Background(), "e1")
			assert.Len(t, links, tc.links)
			w, _ := dir.Get("w1")
			assert.Equal(t, tc.disabled, !w.CalendarEnabled())
		})
	}
}

func TestApplyRecreatesSlippedLiveEntry(t *testing.T) {
	p := &stubPlatform{}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 3))
	putLink(t, store, "w1", "e1", models.EntryLive)

	cached := launch(-time.Minute)
	fresh := launch(2 * time.Hour)
	res, err := s.Apply(context.Background(), changeSet(cached, fresh))
	require.NoError(t, err)
	assert.True(t, res.Recreated)
	assert.Equal(t, []string{"w1-e1"}, p.deleted)
	links, _ := store.LinksByEvent(context.Background(), "e1")
	assert.Empty(t, links)
}

func TestRemoveDropsLinksWhenDeleteFails(t *testing.T) {
	p := &stubPlatform{deleteErr: errors.New("timeout")}
	s, store, _ := newSync(t, p, calendarWorkspace("w1", 3), calendarWorkspace("w2", 3))
	putLink(t, store, "w1", "e1", models.EntryScheduled)
	putLink(t, store, "w2", "e1", models.EntryLive)

	n, err := s.Remove(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, p.deleted, 2)
	links, _ := store.LinksByEvent(context.Background(), "e1")
	assert.Empty(t, links)
}

package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/calendar"
	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/feed"
	"github.com/livelaunch/platform/pkg/media"
	"github.com/livelaunch/platform/pkg/notify"
	"github.com/livelaunch/platform/pkg/subscription"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type remoteEntry struct {
	workspaceID string
	spec        calendar.EntrySpec
	active      bool
}

type fakePlatform struct {
	mu        sync.Mutex
	next      int
	entries   map[string]*remoteEntry
	createErr map[string]error
	updateErr error
	deleteErr error
	deleted   []string
	updates   int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{entries: map[string]*remoteEntry{}, createErr: map[string]error{}}
}

func (p *fakePlatform) Create(ctx context.Context, workspaceID string, spec calendar.EntrySpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.createErr[workspaceID]; err != nil {
		return "", err
	}
	p.next++
	id := fmt.Sprintf("ext-%d", p.next)
	p.entries[id] = &remoteEntry{workspaceID: workspaceID, spec: spec}
	return id, nil
}

func (p *fakePlatform) Update(ctx context.Context, workspaceID, externalID string, patch calendar.EntryPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	e, ok := p.entries[externalID]
	if !ok {
		return calendar.ErrNotFound
	}
	p.updates++
	if patch.Fields.Has(diff.FieldName) {
		e.spec.Name = patch.Spec.Name
	}
	if patch.Fields.Has(diff.FieldStart) {
		e.spec.Start = patch.Spec.Start
	}
	if patch.Fields.Has(diff.FieldEnd) {
		e.spec.End = patch.Spec.End
	}
	if patch.Activate {
		e.active = true
	}
	return nil
}

func (p *fakePlatform) Delete(ctx context.Context, workspaceID, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, externalID)
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.entries, externalID)
	return nil
}

func (p *fakePlatform) entry(id string) (remoteEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return remoteEntry{}, false
	}
	return *e, true
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent map[string][]notify.Payload
	gone map[string]bool
}

func (d *fakeDeliverer) Deliver(ctx context.Context, dest subscription.Destination, p notify.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone[dest.WebhookURL] {
		return notify.ErrGone
	}
	d.sent[dest.WebhookURL] = append(d.sent[dest.WebhookURL], p)
	return nil
}

func (d *fakeDeliverer) count(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent[url])
}

type fakeChannels struct{}

func (fakeChannels) VideoChannel(ctx context.Context, videoID string) (media.Channel, error) {
	return media.Channel{ID: "UC" + videoID, Name: "Channel of " + videoID}, nil
}

func (fakeChannels) Channel(ctx context.Context, channelID string) (media.Channel, error) {
	return media.Channel{ID: channelID, Name: "Channel " + channelID}, nil
}

type fixture struct {
	clk       *clock.Manual
	store     *cache.MemoryStore
	dir       *subscription.Memory
	platform  *fakePlatform
	deliverer *fakeDeliverer
	upstream  *feed.Static
	gate      *media.Gate
	notifier  *notify.Dispatcher
	engine    *Engine
}

func newFixture(t *testing.T, workspaces ...subscription.Workspace) *fixture {
	t.Helper()
	f := &fixture{
		clk:       clock.NewManual(t0),
		store:     cache.NewMemoryStore(),
		dir:       subscription.NewMemory(workspaces...),
		platform:  newFakePlatform(),
		deliverer: &fakeDeliverer{sent: map[string][]notify.Payload{}, gone: map[string]bool{}},
		upstream:  &feed.Static{Label: "ll2"},
	}
	f.gate = media.NewGate(f.store, media.NewLocalClaimer())
	differ := diff.NewDiffer(
		models.NewStatusSet(models.StatusSuccess, models.StatusFailure, models.StatusPartialFailure),
		models.StatusSetFromInts([]int{1, 2, 3, 4, 5, 6, 7, 8, 9}),
	)
	syncer := calendar.NewSynchronizer(f.platform, f.store, f.dir, calendar.WithClock(f.clk))
	f.notifier = notify.NewDispatcher(f.deliverer, f.dir, f.gate, notify.WithAgencies(f.store))
	f.engine = NewEngine(f.store, f.upstream, differ, syncer, f.notifier, f.gate, fakeChannels{}, WithClock(f.clk))
	return f
}

func (f *fixture) feed(records ...models.EventRecord) {
	snap := make(feed.Snapshot, len(records))
	for _, rec := range records {
		snap[rec.ID] = rec
	}
	f.upstream.Snapshot = snap
	f.upstream.Err = nil
}

func (f *fixture) links(t *testing.T, eventID string) []models.CalendarEntryLink {
	t.Helper()
	links, err := f.store.LinksByEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	return links
}

func calendarWorkspace(id string) subscription.Workspace {
	return subscription.Workspace{
		ID:                   id,
		CalendarMaxEntries:   5,
		CalendarLaunches:     true,
		CalendarEvents:       true,
		CalendarIncludeNoURL: true,
	}
}

func notifyingWorkspace(id string) subscription.Workspace {
	w := calendarWorkspace(id)
	w.Media = subscription.Destination{ChannelID: "m-" + id, WebhookURL: "https://hooks/media/" + id}
	w.Notification = subscription.Destination{ChannelID: "n-" + id, WebhookURL: "https://hooks/notify/" + id}
	w.NotifyLaunches = true
	w.Categories = []subscription.Category{
		subscription.CategoryGo, subscription.CategoryHold, subscription.CategoryEndStatus, subscription.CategoryT0Change,
	}
	return w
}

// event builds a go launch starting at now+offset.
func event(id string, now time.Time, offset time.Duration) models.EventRecord {
	start := now.Add(offset)
	return models.EventRecord{
		ID:       id,
		Kind:     models.KindLaunch,
		Name:     "Launch " + id,
		Location: "LC-39A",
		MediaURL: models.NoStream,
		Start:    start,
		End:      start.Add(time.Hour),
		Status:   models.StatusGo,
	}
}

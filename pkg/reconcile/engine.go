// Package reconcile runs the fetch, diff and act cycles that keep the cache,
// the workspace calendars and the notification destinations in step with
// the upstream feeds.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/calendar"
	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/feed"
	"github.com/livelaunch/platform/pkg/media"
	"github.com/livelaunch/platform/pkg/notify"
	"github.com/livelaunch/platform/pkg/observability/metrics"
)

const sourceName = "reconciler"

// Publisher receives change events for external readers. kafka.Producer
// satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Report summarizes one structured-feed cycle.
type Report struct {
	Fetched        int
	Inserted       int
	Updated        int
	Removed        int
	StatusNotified int
	Recreated      int
	LinksCreated   int
	LinksDeleted   int
	MediaAnnounced int
}

// Engine reconciles the structured feed. One Engine must not run two
// cycles at once; Runner guarantees that.
type Engine struct {
	store    cache.Store
	feed     feed.Adapter
	differ   *diff.Differ
	calendar *calendar.Synchronizer
	notifier *notify.Dispatcher
	media    *announcer

	publisher    Publisher
	housekeeping []housekeepingTask
	clock        clock.Clock
	mediaWindow  time.Duration
	log          *logrus.Entry
}

type housekeepingTask struct {
	name string
	fn   func(context.Context) error
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMediaWindow sets how far from its start an event's stream is still
// announced, in either direction.
func WithMediaWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.mediaWindow = d
		}
	}
}

// WithHousekeeping adds a task run after every completed cycle. Failures
// are logged and never fail the cycle.
func WithHousekeeping(name string, fn func(context.Context) error) Option {
	return func(e *Engine) { e.housekeeping = append(e.housekeeping, housekeepingTask{name: name, fn: fn}) }
}

func NewEngine(
	store cache.Store,
	adapter feed.Adapter,
	differ *diff.Differ,
	sync *calendar.Synchronizer,
	notifier *notify.Dispatcher,
	gate *media.Gate,
	channels media.ChannelResolver,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:       store,
		feed:        adapter,
		differ:      differ,
		calendar:    sync,
		notifier:    notifier,
		clock:       clock.System(),
		mediaWindow: time.Hour,
		log:         logger.Component("reconcile").WithField("loop", adapter.Name()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.media = newAnnouncer(gate, channels, notifier, adapter.Name(), e.publish)
	return e
}

func (e *Engine) Name() string { return e.feed.Name() }

func (e *Engine) RunCycle(ctx context.Context) error {
	_, err := e.Reconcile(ctx)
	return err
}

// Reconcile runs one fetch, diff and act cycle. A failed or empty fetch
// returns feed.ErrFeedUnavailable before anything is mutated.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	snap, err := e.feed.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch %s: %w", e.feed.Name(), err)
	}
	if len(snap) == 0 {
		return report, fmt.Errorf("fetch %s: %w", e.feed.Name(), feed.ErrFeedUnavailable)
	}
	report.Fetched = len(snap)

	cached, err := e.store.Events(ctx)
	if err != nil {
		return report, fmt.Errorf("load cached events: %w", err)
	}

	now := e.clock.Now()
	recreated := make(map[string]bool)
	known := make(map[string]bool, len(cached))

	for _, c := range cached {
		known[c.ID] = true
		fresh, ok := snap[c.ID]
		if !ok {
			if e.removeEvent(ctx, c, now) {
				report.Removed++
			}
			continue
		}
		outcome := e.reconcileEvent(ctx, c, fresh, now)
		if outcome.updated {
			report.Updated++
		}
		if outcome.notified {
			report.StatusNotified++
		}
		if outcome.recreated {
			recreated[c.ID] = true
			report.Recreated++
		}
	}

	for id, fresh := range snap {
		if known[id] {
			continue
		}
		if e.insertEvent(ctx, fresh) {
			report.Inserted++
		}
	}

	relevant := make([]models.EventRecord, 0, len(snap))
	for _, rec := range snap {
		if e.differ.Relevant(rec, now) {
			relevant = append(relevant, rec)
		}
	}
	converged, err := e.calendar.Converge(ctx, relevant, recreated)
	if err != nil {
		e.log.WithError(err).Error("Calendar convergence failed")
	}
	report.LinksCreated = converged.Created
	report.LinksDeleted = converged.Deleted

	report.MediaAnnounced = e.announceMedia(ctx, snap, now)

	for _, task := range e.housekeeping {
		if err := task.fn(ctx); err != nil {
			e.log.WithError(err).WithField("task", task.name).Warn("Housekeeping failed")
		}
	}

	metrics.SetCachedEvents(len(snap))
	e.log.WithFields(logrus.Fields{
		"fetched":         report.Fetched,
		"inserted":        report.Inserted,
		"updated":         report.Updated,
		"removed":         report.Removed,
		"status_notified": report.StatusNotified,
		"links_created":   report.LinksCreated,
		"links_deleted":   report.LinksDeleted,
		"media_announced": report.MediaAnnounced,
	}).Info("Reconciliation cycle complete")
	return report, nil
}

type eventOutcome struct {
	updated   bool
	notified  bool
	recreated bool
}

// reconcileEvent applies one cached/fresh pair. Every remote side effect
// happens before the cache write that records it.
func (e *Engine) reconcileEvent(ctx context.Context, cached, fresh models.EventRecord, now time.Time) eventOutcome {
	var out eventOutcome
	cs := e.differ.Diff(&cached, fresh, now)
	log := e.log.WithField("event_id", fresh.ID)

	// committed tracks what the cache holds for this event.
	committed := cached

	if cs.Fields.Has(diff.FieldAgencyID) {
		e.putAgency(ctx, fresh)
		committed.AgencyID = fresh.AgencyID
	}

	if cs.StatusNotify {
		if _, err := e.notifier.NotifyStatus(ctx, fresh); err != nil {
			log.WithError(err).Warn("Status notification failed")
		}
		committed.Status = fresh.Status
		if err := e.store.PutEvent(ctx, committed); err != nil {
			log.WithError(err).Error("Failed to persist notified status")
		}
		out.notified = true
		e.publish(ctx, models.EventStatusChanged, map[string]interface{}{
			"event_id": fresh.ID,
			"old":      int(cached.Status),
			"new":      int(fresh.Status),
		})
	}

	if !cs.Relevant {
		if cs.BecameIrrelevant() {
			log.Info("Event no longer scheduling relevant")
		}
		if _, err := e.calendar.Remove(ctx, fresh.ID); err != nil {
			log.WithError(err).Error("Failed to remove calendar entries")
		}
		return e.commit(ctx, cs, committed, fresh, out)
	}

	res, err := e.calendar.Apply(ctx, cs)
	if err != nil {
		log.WithError(err).Error("Calendar sync failed")
		res.Transient = true
	}
	out.recreated = res.Recreated
	if res.Transient {
		// Keep the old field values so the change is seen again next cycle.
		if !diff.Compare(committed, cached).Empty() {
			if err := e.store.PutEvent(ctx, committed); err != nil {
				log.WithError(err).Error("Failed to persist event")
			}
		}
		return out
	}

	if cs.StartChanged() {
		if _, err := e.notifier.NotifyStartChange(ctx, fresh, cached.Start); err != nil {
			log.WithError(err).Warn("Start change notification failed")
		}
	}
	return e.commit(ctx, cs, committed, fresh, out)
}

func (e *Engine) commit(ctx context.Context, cs diff.ChangeSet, committed, fresh models.EventRecord, out eventOutcome) eventOutcome {
	if diff.Compare(committed, fresh).Empty() {
		return out
	}
	if err := e.store.PutEvent(ctx, fresh); err != nil {
		e.log.WithError(err).WithField("event_id", fresh.ID).Error("Failed to persist event")
		return out
	}
	out.updated = true
	e.log.WithFields(logrus.Fields{"event_id": fresh.ID, "fields": cs.Fields.String()}).Debug("Event updated")
	return out
}

// removeEvent drops an event the feed no longer reports. Calendar removal
// is attempted first; the record is only deleted once its links are gone.
func (e *Engine) removeEvent(ctx context.Context, cached models.EventRecord, now time.Time) bool {
	log := e.log.WithField("event_id", cached.ID)
	cs := e.differ.Removed(cached, now)
	if _, err := e.calendar.Remove(ctx, cs.EventID); err != nil {
		log.WithError(err).Error("Failed to remove calendar entries, keeping event")
		return false
	}
	if err := e.store.DeleteEvent(ctx, cs.EventID); err != nil {
		log.WithError(err).Error("Failed to delete event")
		return false
	}
	log.Info("Event removed upstream")
	e.publish(ctx, models.EventRemoved, map[string]interface{}{"event_id": cached.ID})
	return true
}

func (e *Engine) insertEvent(ctx context.Context, fresh models.EventRecord) bool {
	e.putAgency(ctx, fresh)
	if err := e.store.PutEvent(ctx, fresh); err != nil {
		e.log.WithError(err).WithField("event_id", fresh.ID).Error("Failed to insert event")
		return false
	}
	e.publish(ctx, models.EventCreated, map[string]interface{}{
		"event_id": fresh.ID,
		"kind":     string(fresh.Kind),
		"name":     fresh.Name,
		"start":    fresh.Start,
	})
	return true
}

func (e *Engine) putAgency(ctx context.Context, rec models.EventRecord) {
	if rec.AgencyID == 0 {
		return
	}
	agency := models.Agency{ID: rec.AgencyID, Name: rec.AgencyName}
	if existing, err := e.store.GetAgency(ctx, rec.AgencyID); err == nil {
		agency.LogoURL = existing.LogoURL
		if agency.Name == "" {
			agency.Name = existing.Name
		}
	} else if !errors.Is(err, cache.ErrNotFound) {
		e.log.WithError(err).WithField("agency_id", rec.AgencyID).Warn("Failed to read agency")
	}
	if err := e.store.PutAgency(ctx, agency); err != nil {
		e.log.WithError(err).WithField("agency_id", rec.AgencyID).Warn("Failed to store agency")
	}
}

// announceMedia offers every stream starting or started within the media
// window to the gate.
func (e *Engine) announceMedia(ctx context.Context, snap feed.Snapshot, now time.Time) int {
	var candidates []candidate
	for _, rec := range snap {
		offset := rec.Start.Sub(now)
		if offset < 0 {
			offset = -offset
		}
		if offset >= e.mediaWindow {
			continue
		}
		if id := media.CanonicalID(rec.MediaURL); id != "" {
			candidates = append(candidates, candidate{mediaID: id})
		}
	}
	return e.media.announce(ctx, candidates)
}

func (e *Engine) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishEvent(ctx, eventType, sourceName, data); err != nil {
		e.log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish change event")
	}
}

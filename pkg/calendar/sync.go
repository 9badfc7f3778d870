// Package calendar projects relevant events onto every interested workspace
// as external calendar entries and keeps those entries converged.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/observability/metrics"
	"github.com/livelaunch/platform/pkg/subscription"
)

// LinkStore is the part of cache.Store the synchronizer writes through.
type LinkStore interface {
	LinksByEvent(ctx context.Context, eventID string) ([]models.CalendarEntryLink, error)
	LinksByWorkspace(ctx context.Context, workspaceID string) ([]models.CalendarEntryLink, error)
	LinkWorkspaces(ctx context.Context) ([]string, error)
	PutLink(ctx context.Context, link models.CalendarEntryLink) error
	DeleteLink(ctx context.Context, workspaceID, eventID string) error
}

type Synchronizer struct {
	platform    Platform
	links       LinkStore
	directory   subscription.Directory
	policy      Policy
	clock       clock.Clock
	concurrency int
	log         *logrus.Entry
}

type Option func(*Synchronizer)

func WithPolicy(p Policy) Option {
	return func(s *Synchronizer) { s.policy = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

func WithConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewSynchronizer(platform Platform, links LinkStore, directory subscription.Directory, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		platform:    platform,
		links:       links,
		directory:   directory,
		policy:      DefaultPolicy(),
		clock:       clock.System(),
		concurrency: 8,
		log:         logger.Component("calendar"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synchronizer) Policy() Policy { return s.policy }

// ApplyResult summarizes Apply for one event.
type ApplyResult struct {
	Updated int
	Dropped int
	// Recreated is set when a link was deleted so that a fresh scheduled
	// entry can be created on a later cycle.
	Recreated bool
	// Transient is set when at least one link failed transiently; the
	// caller must not advance the cached copy of the changed fields.
	Transient bool
}

// Apply walks every existing link of a still relevant event and moves it
// through the state machine.
func (s *Synchronizer) Apply(ctx context.Context, cs diff.ChangeSet) (ApplyResult, error) {
	var res ApplyResult
	if cs.Fresh == nil {
		return res, fmt.Errorf("apply %s: no fresh record", cs.EventID)
	}
	links, err := s.links.LinksByEvent(ctx, cs.EventID)
	if err != nil {
		return res, fmt.Errorf("links for event %s: %w", cs.EventID, err)
	}
	if len(links) == 0 {
		return res, nil
	}

	fresh := *cs.Fresh
	fields := cs.CalendarFields()
	now := s.clock.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, link := range links {
		g.Go(func() error {
			action := s.policy.PlanUpdate(link, fresh, fields, now)
			outcome := s.applyLink(gctx, link, action)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeUpdated:
				res.Updated++
			case outcomeDropped:
				res.Dropped++
			case outcomeRecreated:
				res.Dropped++
				res.Recreated = true
			case outcomeTransient:
				res.Transient = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

type linkOutcome int

const (
	outcomeNone linkOutcome = iota
	outcomeUpdated
	outcomeDropped
	outcomeRecreated
	outcomeTransient
)

func (s *Synchronizer) applyLink(ctx context.Context, link models.CalendarEntryLink, action Action) linkOutcome {
	log := s.log.WithFields(logrus.Fields{
		"workspace_id": link.WorkspaceID,
		"event_id":     link.EventID,
		"external_id":  link.ExternalID,
	})

	switch action.Kind {
	case ActionNoop:
		return outcomeNone
	case ActionRecreate:
		s.deleteRemote(ctx, link, log)
		if err := s.links.DeleteLink(ctx, link.WorkspaceID, link.EventID); err != nil {
			log.WithError(err).Error("Failed to drop calendar link")
			return outcomeTransient
		}
		log.WithField("reason", action.Reason).Info("Calendar entry removed for recreation")
		return outcomeRecreated
	}

	err := s.platform.Update(ctx, link.WorkspaceID, link.ExternalID, action.Patch)
	if err != nil {
		return s.handleFailure(ctx, link, "update", err, log)
	}
	metrics.CalendarOp("update", "ok")
	if action.State != link.State {
		link.State = action.State
		if err := s.links.PutLink(ctx, link); err != nil {
			log.WithError(err).Error("Failed to persist calendar link state")
			return outcomeTransient
		}
	}
	log.WithFields(logrus.Fields{"reason": action.Reason, "fields": action.Patch.Fields.String()}).Debug("Calendar entry updated")
	return outcomeUpdated
}

// handleFailure applies the failure policy to a failed update of an
// existing link.
func (s *Synchronizer) handleFailure(ctx context.Context, link models.CalendarEntryLink, op string, err error, log *logrus.Entry) linkOutcome {
	class := Classify(err)
	metrics.CalendarOp(op, class.String())
	log = log.WithError(err).WithField("failure", class.String())

	switch class {
	case FailurePermission:
		s.disable(ctx, link.WorkspaceID, log)
		fallthrough
	case FailurePermanent:
		if derr := s.links.DeleteLink(ctx, link.WorkspaceID, link.EventID); derr != nil {
			log.WithField("store_error", derr.Error()).Error("Failed to drop calendar link")
			return outcomeTransient
		}
		log.Warn("Calendar link dropped")
		return outcomeDropped
	}
	log.Warn("Calendar operation failed, will retry next cycle")
	return outcomeTransient
}

func (s *Synchronizer) disable(ctx context.Context, workspaceID string, log *logrus.Entry) {
	if err := s.directory.DisableCalendar(ctx, workspaceID); err != nil && !errors.Is(err, subscription.ErrNotFound) {
		log.WithField("directory_error", err.Error()).Error("Failed to disable calendar feature")
		return
	}
	log.Warn("Calendar feature disabled for workspace")
}

// deleteRemote attempts the downstream delete; every outcome is tolerated
// because only the local link decides whether the entry still exists.
func (s *Synchronizer) deleteRemote(ctx context.Context, link models.CalendarEntryLink, log *logrus.Entry) {
	if err := s.platform.Delete(ctx, link.WorkspaceID, link.ExternalID); err != nil {
		metrics.CalendarOp("delete", Classify(err).String())
		log.WithError(err).Warn("Calendar entry delete failed, dropping link anyway")
		return
	}
	metrics.CalendarOp("delete", "ok")
}

// Remove deletes every entry of an event that is no longer relevant or no
// longer reported upstream. All links of the event are gone afterwards.
func (s *Synchronizer) Remove(ctx context.Context, eventID string) (int, error) {
	links, err := s.links.LinksByEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("links for event %s: %w", eventID, err)
	}

	var (
		mu      sync.Mutex
		removed int
		failed  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, link := range links {
		g.Go(func() error {
			log := s.log.WithFields(logrus.Fields{"workspace_id": link.WorkspaceID, "event_id": eventID})
			s.deleteRemote(gctx, link, log)
			err := s.links.DeleteLink(ctx, link.WorkspaceID, link.EventID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = errors.Join(failed, err)
				return nil
			}
			removed++
			return nil
		})
	}
	_ = g.Wait()
	if failed != nil {
		return removed, fmt.Errorf("drop links for event %s: %w", eventID, failed)
	}
	return removed, nil
}

// ConvergeResult summarizes one convergence pass.
type ConvergeResult struct {
	Created  int
	Deleted  int
	Disabled []string
}

// Converge makes every workspace own exactly the links it wants for the
// given relevant events, whether or not the events changed this cycle.
// Events in skip are not created this pass.
func (s *Synchronizer) Converge(ctx context.Context, events []models.EventRecord, skip map[string]bool) (ConvergeResult, error) {
	var res ConvergeResult
	workspaces, err := s.directory.CalendarWorkspaces(ctx)
	if err != nil {
		return res, fmt.Errorf("calendar workspaces: %w", err)
	}
	owners, err := s.links.LinkWorkspaces(ctx)
	if err != nil {
		return res, fmt.Errorf("link workspaces: %w", err)
	}

	byID := make(map[string]models.EventRecord, len(events))
	for _, rec := range events {
		byID[rec.ID] = rec
	}
	enabled := make(map[string]bool, len(workspaces))
	for _, w := range workspaces {
		enabled[w.ID] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, w := range workspaces {
		g.Go(func() error {
			created, deleted, disabled := s.convergeWorkspace(gctx, w, events, byID, skip)
			mu.Lock()
			defer mu.Unlock()
			res.Created += created
			res.Deleted += deleted
			if disabled {
				res.Disabled = append(res.Disabled, w.ID)
			}
			return nil
		})
	}
	for _, id := range owners {
		if enabled[id] {
			continue
		}
		g.Go(func() error {
			deleted := s.clearWorkspace(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			res.Deleted += deleted
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

func (s *Synchronizer) convergeWorkspace(ctx context.Context, w subscription.Workspace, events []models.EventRecord, byID map[string]models.EventRecord, skip map[string]bool) (created, deleted int, disabled bool) {
	log := s.log.WithField("workspace_id", w.ID)
	existing, err := s.links.LinksByWorkspace(ctx, w.ID)
	if err != nil {
		log.WithError(err).Error("Failed to list workspace links")
		return 0, 0, false
	}

	wantedIDs := w.WantedEvents(events)
	wanted := make(map[string]bool, len(wantedIDs))
	for _, id := range wantedIDs {
		wanted[id] = true
	}
	have := make(map[string]bool, len(existing))
	for _, link := range existing {
		have[link.EventID] = true
		if wanted[link.EventID] {
			continue
		}
		l := log.WithField("event_id", link.EventID)
		s.deleteRemote(ctx, link, l)
		if err := s.links.DeleteLink(ctx, link.WorkspaceID, link.EventID); err != nil {
			l.WithError(err).Error("Failed to drop calendar link")
			continue
		}
		deleted++
	}

	now := s.clock.Now()
	for _, id := range wantedIDs {
		if have[id] || skip[id] {
			continue
		}
		rec := byID[id]
		l := log.WithField("event_id", rec.ID)
		spec, state := s.policy.CreateSpec(rec, now)
		externalID, err := s.platform.Create(ctx, w.ID, spec)
		if err != nil {
			class := Classify(err)
			metrics.CalendarOp("create", class.String())
			if class == FailureTransient {
				l.WithError(err).Warn("Calendar entry create failed, will retry next cycle")
				continue
			}
			// The workspace lost the destination or our rights in it.
			l.WithError(err).WithField("failure", class.String()).Warn("Calendar entry create rejected")
			s.disable(ctx, w.ID, l)
			return created, deleted, true
		}
		metrics.CalendarOp("create", "ok")
		link := models.CalendarEntryLink{
			WorkspaceID: w.ID,
			ExternalID:  externalID,
			EventID:     rec.ID,
			State:       state,
			CreatedAt:   now,
		}
		if err := s.links.PutLink(ctx, link); err != nil {
			// The remote entry is orphaned until the workspace is cleaned up by hand.
			l.WithError(err).WithField("external_id", externalID).Error("Failed to persist calendar link")
			continue
		}
		created++
		l.WithField("state", string(state)).Info("Calendar entry created")
	}
	return created, deleted, false
}

// clearWorkspace removes every link of a workspace that no longer wants entries.
func (s *Synchronizer) clearWorkspace(ctx context.Context, workspaceID string) int {
	log := s.log.WithField("workspace_id", workspaceID)
	links, err := s.links.LinksByWorkspace(ctx, workspaceID)
	if err != nil {
		log.WithError(err).Error("Failed to list workspace links")
		return 0
	}
	deleted := 0
	for _, link := range links {
		s.deleteRemote(ctx, link, log.WithField("event_id", link.EventID))
		if err := s.links.DeleteLink(ctx, link.WorkspaceID, link.EventID); err != nil {
			log.WithError(err).Error("Failed to drop calendar link")
			continue
		}
		deleted++
	}
	return deleted
}

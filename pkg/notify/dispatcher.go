// Package notify fans status changes and media announcements out to every
// subscribed workspace destination.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/observability/metrics"
	"github.com/livelaunch/platform/pkg/subscription"
)

// AgencyLookup resolves the sender identity of status notifications.
// cache.Store satisfies it.
type AgencyLookup interface {
	GetAgency(ctx context.Context, id int) (models.Agency, error)
}

// SentMarker commits announced media. media.Gate satisfies it.
type SentMarker interface {
	MarkSent(ctx context.Context, mediaID string) error
}

// Report counts the outcome of one dispatch across all destinations.
type Report struct {
	Destinations int
	Delivered    int
	Failed       int
	Cleared      int
	// Marked lists the media ids committed as sent.
	Marked []string
}

func (r *Report) add(o Report) {
	r.Destinations += o.Destinations
	r.Delivered += o.Delivered
	r.Failed += o.Failed
	r.Cleared += o.Cleared
	r.Marked = append(r.Marked, o.Marked...)
}

type Dispatcher struct {
	deliverer   Deliverer
	directory   subscription.Directory
	agencies    AgencyLookup
	marker      SentMarker
	concurrency int
	log         *logrus.Entry
}

type Option func(*Dispatcher)

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithAgencies(a AgencyLookup) Option {
	return func(d *Dispatcher) { d.agencies = a }
}

func NewDispatcher(deliverer Deliverer, directory subscription.Directory, marker SentMarker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		deliverer:   deliverer,
		directory:   directory,
		marker:      marker,
		concurrency: 8,
		log:         logger.Component("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyStatus delivers the status of rec to every workspace subscribed to
// its status category and kind.
func (d *Dispatcher) NotifyStatus(ctx context.Context, rec models.EventRecord) (Report, error) {
	category, ok := subscription.CategoryFor(rec.Status)
	if !ok {
		return Report{}, nil
	}
	workspaces, err := d.directory.StatusSubscribers(ctx, category, rec.Kind)
	if err != nil {
		return Report{}, fmt.Errorf("status subscribers for %s: %w", category, err)
	}
	payload := StatusPayload(rec, d.agency(ctx, rec.AgencyID))
	report := d.fanOut(ctx, "status", subscription.TargetNotification, workspaces, []Payload{payload},
		logrus.Fields{"event_id": rec.ID, "status": int(rec.Status)})
	return report, nil
}

// NotifyStartChange delivers a revised start time to workspaces subscribed
// to start changes.
func (d *Dispatcher) NotifyStartChange(ctx context.Context, rec models.EventRecord, previous time.Time) (Report, error) {
	workspaces, err := d.directory.StatusSubscribers(ctx, subscription.CategoryT0Change, rec.Kind)
	if err != nil {
		return Report{}, fmt.Errorf("start change subscribers: %w", err)
	}
	payload := StartChangePayload(rec, previous, d.agency(ctx, rec.AgencyID))
	report := d.fanOut(ctx, "t0_change", subscription.TargetNotification, workspaces, []Payload{payload},
		logrus.Fields{"event_id": rec.ID})
	return report, nil
}

// NotifyMedia delivers the whole batch to every media destination and then
// marks every item sent, whatever the per-destination outcome was. Nothing
// is delivered or marked when the subscriber lookup fails. Report.Marked
// lists the items that were committed.
func (d *Dispatcher) NotifyMedia(ctx context.Context, items []models.MediaAnnouncement) (Report, error) {
	if len(items) == 0 {
		return Report{}, nil
	}
	workspaces, err := d.directory.MediaSubscribers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("media subscribers: %w", err)
	}

	payloads := make([]Payload, len(items))
	for i, item := range items {
		payloads[i] = MediaPayload(item)
	}
	report := d.fanOut(ctx, "media", subscription.TargetMedia, workspaces, payloads,
		logrus.Fields{"items": len(items)})

	var markErr error
	for _, item := range items {
		if d.marker != nil {
			if err := d.marker.MarkSent(ctx, item.MediaID); err != nil {
				markErr = errors.Join(markErr, err)
				continue
			}
		}
		report.Marked = append(report.Marked, item.MediaID)
	}
	return report, markErr
}

func (d *Dispatcher) agency(ctx context.Context, id int) *models.Agency {
	if d.agencies == nil || id == 0 {
		return nil
	}
	agency, err := d.agencies.GetAgency(ctx, id)
	if err != nil {
		return nil
	}
	return &agency
}

// fanOut sends payloads in order to each workspace. Workspaces are handled
// concurrently and in isolation. A gone destination is cleared and gets no
// further payloads; any other failure skips only that one payload.
func (d *Dispatcher) fanOut(ctx context.Context, kind string, target subscription.Target, workspaces []subscription.Workspace, payloads []Payload, fields logrus.Fields) Report {
	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, w := range workspaces {
		dest := w.Notification
		if target == subscription.TargetMedia {
			dest = w.Media
		}
		if !dest.Configured() {
			continue
		}
		g.Go(func() error {
			r := d.deliverWorkspace(gctx, kind, target, w.ID, dest, payloads, fields)
			mu.Lock()
			report.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (d *Dispatcher) deliverWorkspace(ctx context.Context, kind string, target subscription.Target, workspaceID string, dest subscription.Destination, payloads []Payload, fields logrus.Fields) Report {
	report := Report{Destinations: 1}
	log := d.log.WithFields(fields).WithFields(logrus.Fields{"workspace_id": workspaceID, "kind": kind})

	for _, p := range payloads {
		err := d.deliverer.Deliver(ctx, dest, p)
		switch {
		case err == nil:
			report.Delivered++
			metrics.Delivery(kind, "ok")
		case errors.Is(err, ErrGone):
			report.Failed++
			metrics.Delivery(kind, "gone")
			if cerr := d.directory.ClearDestination(ctx, workspaceID, target); cerr != nil && !errors.Is(cerr, subscription.ErrNotFound) {
				log.WithError(cerr).Error("Failed to clear destination")
				return report
			}
			report.Cleared++
			log.WithError(err).Warn("Destination gone, cleared")
			return report
		default:
			report.Failed++
			metrics.Delivery(kind, "error")
			log.WithError(err).Warn("Delivery failed")
		}
	}
	return report
}

package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/feed"
	"github.com/livelaunch/platform/pkg/observability/metrics"
)

// Cycle is one periodic loop body.
type Cycle interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// Runner drives one Cycle on a fixed interval. Cycles of one Runner never
// overlap, and cancellation is only observed between cycles: a started
// cycle runs to completion under its own timeout.
type Runner struct {
	cycle    Cycle
	interval time.Duration
	timeout  time.Duration
	trigger  chan struct{}
	log      *logrus.Entry

	mu          sync.RWMutex
	lastSuccess time.Time
	lastErr     error
}

func NewRunner(cycle Cycle, interval, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = interval
	}
	return &Runner{
		cycle:    cycle,
		interval: interval,
		timeout:  timeout,
		trigger:  make(chan struct{}, 1),
		log:      logger.Component("runner").WithField("loop", cycle.Name()),
	}
}

func (r *Runner) Name() string { return r.cycle.Name() }

// Run executes a cycle immediately and then every interval until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.WithField("interval", r.interval.String()).Info("Loop started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			r.log.Info("Loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
		}
		if ctx.Err() != nil {
			r.log.Info("Loop stopped")
			return ctx.Err()
		}
	}
}

// RunOnce executes exactly one cycle, detached from ctx cancellation.
func (r *Runner) RunOnce(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	started := time.Now()
	err := r.cycle.RunCycle(cycleCtx)
	metrics.ObserveCycle(r.cycle.Name(), started, err)

	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.lastSuccess = time.Now().UTC()
	}
	r.mu.Unlock()

	log := r.log.WithField("duration_ms", time.Since(started).Milliseconds())
	switch {
	case err == nil:
	case errors.Is(err, feed.ErrFeedUnavailable):
		log.WithError(err).Warn("Feed unavailable, skipping cycle")
	default:
		log.WithError(err).Error("Cycle failed")
	}
	return err
}

// Trigger asks for an early cycle. Requests made while one is pending are
// merged.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Status reports the time of the last successful cycle and the error of
// the most recent one.
func (r *Runner) Status() (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSuccess, r.lastErr
}

// HandleSettingsEvent triggers an early cycle when a workspace changed its
// settings, so the calendar converges without waiting a full interval.
func (r *Runner) HandleSettingsEvent(ctx context.Context, event models.Event) error {
	if event.Type == models.WorkspaceSettingsEdit {
		r.log.WithField("bus_event_id", event.ID).Debug("Workspace settings changed, triggering cycle")
		r.Trigger()
	}
	return nil
}

package calendar

import (
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
)

// Link lifecycle:
//
//	absent -> scheduled -> live -> removed
//	absent -> live                  (go-live threshold already passed at creation)
//	live   -> removed -> scheduled  (start slipped past the horizon, recreated next cycle)
//
// Scheduled and live are stored on the link; absent and removed are the
// absence of a link.

// Policy holds the timing thresholds of the link state machine.
type Policy struct {
	// Lookahead is how close to its start an event goes live.
	Lookahead time.Duration
	// SlipHorizon is how far a live entry's start may move forward before
	// the entry is recreated.
	SlipHorizon time.Duration
	// Epsilon is the offset of synthetic start times from now.
	Epsilon time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Lookahead: time.Minute, SlipHorizon: time.Hour, Epsilon: time.Minute}
}

// GoLive reports whether an entry for rec should be in the live intent state.
func (p Policy) GoLive(rec models.EventRecord, now time.Time) bool {
	return rec.BroadcastLive || !rec.Start.After(now.Add(p.Lookahead))
}

// CreateSpec builds the entry for a new link and the state it starts in.
// The platform rejects past start times, so a live entry gets a synthetic
// start of now+Epsilon.
func (p Policy) CreateSpec(rec models.EventRecord, now time.Time) (EntrySpec, models.EntryState) {
	spec := SpecFor(rec)
	state := models.EntryScheduled
	if p.GoLive(rec, now) {
		spec.Start = p.syntheticStart(now)
		state = models.EntryLive
	}
	spec.End = p.clampEnd(spec.Start, spec.End)
	return spec, state
}

type ActionKind int

const (
	ActionNoop ActionKind = iota
	ActionUpdate
	ActionRecreate
)

func (k ActionKind) String() string {
	switch k {
	case ActionUpdate:
		return "update"
	case ActionRecreate:
		return "recreate"
	}
	return "noop"
}

// Action is the planned transition of one existing link.
type Action struct {
	Kind   ActionKind
	Patch  EntryPatch
	State  models.EntryState
	Reason string
}

// PlanUpdate decides what to do with an existing link given the fresh
// record and the fields that changed this cycle. It must be evaluated for
// every relevant linked event each cycle, changed or not, because the
// scheduled to live transition is driven by the clock.
func (p Policy) PlanUpdate(link models.CalendarEntryLink, fresh models.EventRecord, fields diff.FieldSet, now time.Time) Action {
	goLive := p.GoLive(fresh, now)
	action := Action{Kind: ActionNoop, State: link.State}

	if link.State == models.EntryLive && !goLive {
		if fields.Has(diff.FieldStart) && fresh.Start.After(now.Add(p.SlipHorizon)) {
			return Action{Kind: ActionRecreate, State: link.State, Reason: "start slipped past horizon"}
		}
		if fields.Has(diff.FieldBroadcastLive) && !fresh.BroadcastLive && fresh.Start.After(now.Add(p.SlipHorizon)) {
			return Action{Kind: ActionRecreate, State: link.State, Reason: "broadcast ended before start"}
		}
	}

	patch := EntryPatch{Spec: SpecFor(fresh)}
	if fields.Has(diff.FieldName) {
		patch.Fields = patch.Fields.With(diff.FieldName)
	}
	if fields.Has(diff.FieldDescription) || fields.Has(diff.FieldLocation) {
		patch.Fields = patch.Fields.With(diff.FieldDescription)
	}
	if fields.Has(diff.FieldMediaURL) {
		patch.Fields = patch.Fields.With(diff.FieldMediaURL)
	}
	if fields.Has(diff.FieldImageURL) && fresh.ImageURL != "" {
		patch.Fields = patch.Fields.With(diff.FieldImageURL)
	}

	switch {
	case link.State == models.EntryScheduled && goLive:
		// The true start is never sent once it is in the past.
		patch.Spec.Start = p.syntheticStart(now)
		patch.Spec.End = p.clampEnd(patch.Spec.Start, fresh.End)
		patch.Fields = patch.Fields.With(diff.FieldStart).With(diff.FieldEnd)
		patch.Activate = true
		action.State = models.EntryLive
		action.Reason = "go live"
	case link.State == models.EntryScheduled && (fields.Has(diff.FieldStart) || fields.Has(diff.FieldEnd)):
		patch.Spec.End = p.clampEnd(fresh.Start, fresh.End)
		patch.Fields = patch.Fields.With(diff.FieldStart).With(diff.FieldEnd)
		action.Reason = "rescheduled"
	case link.State == models.EntryLive && fields.Has(diff.FieldEnd):
		// The entry's start is synthetic; only an end still ahead can be sent.
		if end := fresh.End; end.After(now.Add(p.Epsilon)) {
			patch.Spec.End = end
			patch.Fields = patch.Fields.With(diff.FieldEnd)
		}
	}

	if patch.Empty() {
		return action
	}
	if action.Reason == "" {
		action.Reason = "fields changed"
	}
	action.Kind = ActionUpdate
	action.Patch = patch
	return action
}

func (p Policy) syntheticStart(now time.Time) time.Time {
	return now.Add(p.Epsilon)
}

func (p Policy) clampEnd(start, end time.Time) time.Time {
	if !end.After(start) {
		return start.Add(p.Epsilon)
	}
	return end
}

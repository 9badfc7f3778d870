// Package diff computes what changed between the cached and the freshly
// fetched copy of an event and classifies the change for the calendar and
// notification consumers.
package diff

import (
	"fmt"
	"strings"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
)

// Field identifies one tracked EventRecord field.
type Field uint16

const (
	FieldStatus Field = 1 << iota
	FieldStart
	FieldEnd
	FieldMediaURL
	FieldImageURL
	FieldName
	FieldLocation
	FieldAgencyID
	FieldBroadcastLive
	FieldDescription
)

var fieldOrder = []Field{
	FieldStatus, FieldStart, FieldEnd, FieldMediaURL, FieldImageURL,
	FieldName, FieldLocation, FieldAgencyID, FieldBroadcastLive, FieldDescription,
}

var fieldNames = map[Field]string{
	FieldStatus:        "status",
	FieldStart:         "start",
	FieldEnd:           "end",
	FieldMediaURL:      "media_url",
	FieldImageURL:      "image_url",
	FieldName:          "name",
	FieldLocation:      "location",
	FieldAgencyID:      "agency_id",
	FieldBroadcastLive: "broadcast_live",
	FieldDescription:   "description",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", uint16(f))
}

// FieldSet is a bit set of Fields.
type FieldSet uint16

func (s FieldSet) Has(f Field) bool { return s&FieldSet(f) != 0 }

func (s FieldSet) With(f Field) FieldSet { return s | FieldSet(f) }

func (s FieldSet) Without(f Field) FieldSet { return s &^ FieldSet(f) }

func (s FieldSet) Empty() bool { return s == 0 }

func (s FieldSet) Fields() []Field {
	var out []Field
	for _, f := range fieldOrder {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, len(fieldOrder))
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return strings.Join(names, ",")
}

// ChangeSet is the classified delta for one event in one cycle.
type ChangeSet struct {
	EventID string
	Cached  *models.EventRecord
	Fresh   *models.EventRecord

	Created bool
	Removed bool
	Fields  FieldSet

	WasRelevant bool
	Relevant    bool

	// StatusNotify is set when the status moved into the notifiable subset.
	StatusNotify bool
}

func (c ChangeSet) BecameIrrelevant() bool { return c.WasRelevant && !c.Relevant }
func (c ChangeSet) BecameRelevant() bool   { return !c.WasRelevant && c.Relevant }

// StartChanged reports a revised start time on an already cached event.
func (c ChangeSet) StartChanged() bool { return !c.Created && c.Fields.Has(FieldStart) }

// Empty reports a no-op diff.
func (c ChangeSet) Empty() bool {
	return !c.Created && !c.Removed && c.Fields.Empty() && c.WasRelevant == c.Relevant
}

// CalendarFields is the generic change set handed to the calendar
// synchronizer: a notified status and the agency are handled elsewhere.
func (c ChangeSet) CalendarFields() FieldSet {
	fields := c.Fields.Without(FieldAgencyID)
	if c.StatusNotify {
		fields = fields.Without(FieldStatus)
	}
	return fields
}

// FieldChange is a printable old/new pair, for logs and bus events.
type FieldChange struct {
	Field Field  `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

func (c ChangeSet) Changes() []FieldChange {
	if c.Cached == nil || c.Fresh == nil {
		return nil
	}
	out := make([]FieldChange, 0, len(fieldOrder))
	for _, f := range c.Fields.Fields() {
		out = append(out, FieldChange{Field: f, Old: value(*c.Cached, f), New: value(*c.Fresh, f)})
	}
	return out
}

// Differ holds the status classification used by Diff.
type Differ struct {
	terminal   models.StatusSet
	notifiable models.StatusSet
}

func NewDiffer(terminal, notifiable models.StatusSet) *Differ {
	return &Differ{terminal: terminal, notifiable: notifiable}
}

// Relevant is the scheduling-relevance predicate: the event has not ended and
// its status is not terminal.
func (d *Differ) Relevant(rec models.EventRecord, now time.Time) bool {
	return rec.End.After(now) && !d.terminal.Has(rec.Status)
}

func (d *Differ) Notifiable(status models.Status) bool {
	return d.notifiable.Has(status)
}

// Diff compares fresh against cached, which may be nil for a first sighting.
func (d *Differ) Diff(cached *models.EventRecord, fresh models.EventRecord, now time.Time) ChangeSet {
	cs := ChangeSet{
		EventID:  fresh.ID,
		Cached:   cached,
		Fresh:    &fresh,
		Relevant: d.Relevant(fresh, now),
	}
	if cached == nil {
		cs.Created = true
		return cs
	}
	cs.WasRelevant = d.Relevant(*cached, now)
	cs.Fields = Compare(*cached, fresh)
	cs.StatusNotify = cs.Fields.Has(FieldStatus) && d.notifiable.Has(fresh.Status)
	return cs
}

// Removed classifies a cached event the fresh snapshot no longer reports.
func (d *Differ) Removed(cached models.EventRecord, now time.Time) ChangeSet {
	return ChangeSet{
		EventID:     cached.ID,
		Cached:      &cached,
		Removed:     true,
		WasRelevant: d.Relevant(cached, now),
	}
}

// Compare returns the set of tracked fields whose values differ.
func Compare(a, b models.EventRecord) FieldSet {
	var s FieldSet
	if a.Status != b.Status {
		s = s.With(FieldStatus)
	}
	if !a.Start.Equal(b.Start) {
		s = s.With(FieldStart)
	}
	if !a.End.Equal(b.End) {
		s = s.With(FieldEnd)
	}
	if a.MediaURL != b.MediaURL {
		s = s.With(FieldMediaURL)
	}
	if a.ImageURL != b.ImageURL {
		s = s.With(FieldImageURL)
	}
	if a.Name != b.Name {
		s = s.With(FieldName)
	}
	if a.Location != b.Location {
		s = s.With(FieldLocation)
	}
	if a.AgencyID != b.AgencyID {
		s = s.With(FieldAgencyID)
	}
	if a.BroadcastLive != b.BroadcastLive {
		s = s.With(FieldBroadcastLive)
	}
	if a.Description != b.Description {
		s = s.With(FieldDescription)
	}
	return s
}

func value(r models.EventRecord, f Field) string {
	switch f {
	case FieldStatus:
		return fmt.Sprintf("%d", r.Status)
	case FieldStart:
		return r.Start.UTC().Format(time.RFC3339)
	case FieldEnd:
		return r.End.UTC().Format(time.RFC3339)
	case FieldMediaURL:
		return r.MediaURL
	case FieldImageURL:
		return r.ImageURL
	case FieldName:
		return r.Name
	case FieldLocation:
		return r.Location
	case FieldAgencyID:
		return fmt.Sprintf("%d", r.AgencyID)
	case FieldBroadcastLive:
		return fmt.Sprintf("%t", r.BroadcastLive)
	case FieldDescription:
		return r.Description
	}
	return ""
}

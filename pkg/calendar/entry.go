package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/diff"
)

// EntrySpec is the full content of one external calendar entry.
type EntrySpec struct {
	Name        string
	Description string
	Location    string
	ImageURL    string
	Start       time.Time
	End         time.Time
}

// EntryPatch carries the subset of EntrySpec named by Fields. Only name,
// description, media url (location), image url, start and end are meaningful.
type EntryPatch struct {
	Fields   diff.FieldSet
	Spec     EntrySpec
	Activate bool
}

func (p EntryPatch) Empty() bool { return p.Fields.Empty() && !p.Activate }

// Platform is the downstream calendar capability, one workspace at a time.
// Delete of an entry that no longer exists returns nil.
type Platform interface {
	Create(ctx context.Context, workspaceID string, spec EntrySpec) (string, error)
	Update(ctx context.Context, workspaceID, externalID string, patch EntryPatch) error
	Delete(ctx context.Context, workspaceID, externalID string) error
}

const maxDescription = 1000

// SpecFor renders an event as calendar entry content, using its real times.
func SpecFor(rec models.EventRecord) EntrySpec {
	location := rec.MediaURL
	if !rec.HasStream() {
		location = models.NoStream
	}
	return EntrySpec{
		Name:        truncate(rec.Name, 100),
		Description: describe(rec),
		Location:    location,
		ImageURL:    rec.ImageURL,
		Start:       rec.Start,
		End:         rec.End,
	}
}

func describe(rec models.EventRecord) string {
	parts := make([]string, 0, 2)
	if rec.Location != "" {
		parts = append(parts, rec.Location)
	}
	if rec.Description != "" {
		parts = append(parts, rec.Description)
	}
	return truncate(strings.Join(parts, "\n\n"), maxDescription)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

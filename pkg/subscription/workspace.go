package subscription

import (
	"sort"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
)

// Category is a notification opt-in a workspace can subscribe to.
type Category string

const (
	CategoryGo        Category = "go"
	CategoryTBD       Category = "tbd"
	CategoryTBC       Category = "tbc"
	CategoryHold      Category = "hold"
	CategoryLiftoff   Category = "liftoff"
	CategoryDeploy    Category = "deploy"
	CategoryEndStatus Category = "end_status"
	CategoryT0Change  Category = "t0_change"
)

// CategoryFor maps an upstream status to its notification category.
func CategoryFor(status models.Status) (Category, bool) {
	switch status {
	case models.StatusGo:
		return CategoryGo, true
	case models.StatusTBD:
		return CategoryTBD, true
	case models.StatusTBC:
		return CategoryTBC, true
	case models.StatusHold:
		return CategoryHold, true
	case models.StatusInFlight:
		return CategoryLiftoff, true
	case models.StatusDeployed:
		return CategoryDeploy, true
	case models.StatusSuccess, models.StatusFailure, models.StatusPartialFailure:
		return CategoryEndStatus, true
	}
	return "", false
}

// Target names one of the two destinations a workspace can configure.
type Target string

const (
	TargetMedia        Target = "media"
	TargetNotification Target = "notification"
)

type Destination struct {
	ChannelID  string `json:"channel_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (d Destination) Configured() bool { return d.WebhookURL != "" }

type FilterMode int

const (
	FilterExclude FilterMode = 0
	FilterInclude FilterMode = 1
)

// Workspace is the per-workspace configuration owned by the command layer.
type Workspace struct {
	ID string

	Media        Destination
	Notification Destination

	// CalendarMaxEntries caps how many upcoming events get a calendar entry; 0 disables the feature.
	CalendarMaxEntries   int
	CalendarLaunches     bool
	CalendarEvents       bool
	CalendarIncludeNoURL bool
	AgencyFilter         FilterMode
	AgencyIDs            []int

	NotifyLaunches bool
	NotifyEvents   bool
	Categories     []Category

	UpdatedAt time.Time
}

func (w Workspace) CalendarEnabled() bool { return w.CalendarMaxEntries > 0 }

func (w Workspace) Subscribed(c Category) bool {
	for _, have := range w.Categories {
		if have == c {
			return true
		}
	}
	return false
}

func (w Workspace) NotifiesKind(kind models.Kind) bool {
	if kind == models.KindEvent {
		return w.NotifyEvents
	}
	return w.NotifyLaunches
}

// Empty reports a workspace with nothing left enabled.
func (w Workspace) Empty() bool {
	return !w.Media.Configured() && !w.Notification.Configured() && !w.CalendarEnabled()
}

// WantsEntry reports whether rec passes the workspace's calendar filters,
// ignoring the entry cap.
func (w Workspace) WantsEntry(rec models.EventRecord) bool {
	if !w.CalendarEnabled() {
		return false
	}
	switch rec.Kind {
	case models.KindEvent:
		if !w.CalendarEvents {
			return false
		}
	default:
		if !w.CalendarLaunches {
			return false
		}
	}
	if !w.CalendarIncludeNoURL && !rec.HasStream() {
		return false
	}
	if rec.Kind == models.KindLaunch && len(w.AgencyIDs) > 0 {
		listed := false
		for _, id := range w.AgencyIDs {
			if id == rec.AgencyID {
				listed = true
				break
			}
		}
		if listed != (w.AgencyFilter == FilterInclude) {
			return false
		}
	}
	return true
}

// WantedEvents returns the IDs of the first CalendarMaxEntries events, by
// start time, that the workspace wants entries for. events must already be
// restricted to scheduling-relevant records.
func (w Workspace) WantedEvents(events []models.EventRecord) []string {
	if !w.CalendarEnabled() {
		return nil
	}
	sorted := make([]models.EventRecord, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]string, 0, w.CalendarMaxEntries)
	for _, rec := range sorted {
		if len(out) == w.CalendarMaxEntries {
			break
		}
		if w.WantsEntry(rec) {
			out = append(out, rec.ID)
		}
	}
	return out
}

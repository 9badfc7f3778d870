package models

import (
	"time"
)

// NoStream is the media URL placeholder used when an event has no broadcast yet.
const NoStream = "No stream yet"

type Kind string

const (
	KindLaunch Kind = "launch"
	KindEvent  Kind = "event"
)

// Status is the upstream numeric launch status.
type Status int

const (
	StatusUnknown        Status = 0
	StatusGo             Status = 1
	StatusTBD            Status = 2
	StatusSuccess        Status = 3
	StatusFailure        Status = 4
	StatusHold           Status = 5
	StatusInFlight       Status = 6
	StatusPartialFailure Status = 7
	StatusTBC            Status = 8
	StatusDeployed       Status = 9
)

var statusNames = map[Status]string{
	StatusGo:             "Go for Launch",
	StatusTBD:            "To Be Determined",
	StatusSuccess:        "Launch Successful",
	StatusFailure:        "Launch Failure",
	StatusHold:           "On Hold",
	StatusInFlight:       "Launch in Flight",
	StatusPartialFailure: "Launch was a Partial Failure",
	StatusTBC:            "To Be Confirmed",
	StatusDeployed:       "Payload Deployed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// StatusSet is a small set of statuses, used for the terminal and notifiable subsets.
type StatusSet map[Status]struct{}

func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func StatusSetFromInts(ids []int) StatusSet {
	set := make(StatusSet, len(ids))
	for _, id := range ids {
		set[Status(id)] = struct{}{}
	}
	return set
}

func (s StatusSet) Has(status Status) bool {
	_, ok := s[status]
	return ok
}

// EventRecord is one upstream event (launch or other event) in canonical form.
type EventRecord struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Location      string    `json:"location"`
	AgencyID      int       `json:"agency_id,omitempty"`
	AgencyName    string    `json:"agency_name,omitempty"`
	MediaURL      string    `json:"media_url,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Slug          string    `json:"slug,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        Status    `json:"status"`
	BroadcastLive bool      `json:"broadcast_live"`
}

// HasStream reports whether the record carries a real media URL.
func (r EventRecord) HasStream() bool {
	return r.MediaURL != "" && r.MediaURL != NoStream
}

type Agency struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url,omitempty"`
}

type EntryState string

const (
	EntryScheduled EntryState = "scheduled"
	EntryLive      EntryState = "live"
)

// CalendarEntryLink binds one event to one external calendar entry in one workspace.
type CalendarEntryLink struct {
	WorkspaceID string     `json:"workspace_id"`
	ExternalID  string     `json:"external_id"`
	EventID     string     `json:"event_id"`
	State       EntryState `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
}

type SentMediaMarker struct {
	MediaID string    `json:"media_id"`
	SentAt  time.Time `json:"sent_at"`
}

// MediaAnnouncement is one piece of media waiting to be pushed to media destinations.
type MediaAnnouncement struct {
	ChannelName   string `json:"channel_name"`
	ChannelAvatar string `json:"channel_avatar"`
	MediaID       string `json:"media_id"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // event.created, event.status_changed, event.removed, media.announced, workspace.settings_changed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventCreated          = "event.created"
	EventStatusChanged    = "event.status_changed"
	EventRemoved          = "event.removed"
	MediaAnnounced        = "media.announced"
	WorkspaceSettingsEdit = "workspace.settings_changed"
)

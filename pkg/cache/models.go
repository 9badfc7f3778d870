package cache

import (
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
)

type eventRow struct {
	ID            string    `gorm:"primaryKey;column:id;size:36"`
	Kind          string    `gorm:"column:kind"`
	Name          string    `gorm:"column:name"`
	Description   string    `gorm:"column:description"`
	Location      string    `gorm:"column:location"`
	AgencyID      int       `gorm:"column:agency_id"`
	MediaURL      string    `gorm:"column:media_url"`
	ImageURL      string    `gorm:"column:image_url"`
	Slug          string    `gorm:"column:slug"`
	Start         time.Time `gorm:"column:start_at;index"`
	End           time.Time `gorm:"column:end_at"`
	Status        int       `gorm:"column:status"`
	BroadcastLive bool      `gorm:"column:broadcast_live"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (eventRow) TableName() string { return "ll2_events" }

type agencyRow struct {
	ID      int    `gorm:"primaryKey;column:agency_id;autoIncrement:false"`
	Name    string `gorm:"column:name"`
	LogoURL string `gorm:"column:logo_url"`
}

func (agencyRow) TableName() string { return "ll2_agencies" }

type linkRow struct {
	ExternalID  string    `gorm:"primaryKey;column:external_id"`
	WorkspaceID string    `gorm:"column:workspace_id;uniqueIndex:idx_link_workspace_event;index"`
	EventID     string    `gorm:"column:event_id;size:36;uniqueIndex:idx_link_workspace_event;index"`
	State       string    `gorm:"column:state"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (linkRow) TableName() string { return "calendar_entry_links" }

type sentMediaRow struct {
	MediaID string    `gorm:"primaryKey;column:media_id"`
	SentAt  time.Time `gorm:"column:sent_at"`
}

func (sentMediaRow) TableName() string { return "sent_media" }

func toEventRow(rec models.EventRecord) eventRow {
	return eventRow{
		ID:            rec.ID,
		Kind:          string(rec.Kind),
		Name:          rec.Name,
		Description:   rec.Description,
		Location:      rec.Location,
		AgencyID:      rec.AgencyID,
		MediaURL:      rec.MediaURL,
		ImageURL:      rec.ImageURL,
		Slug:          rec.Slug,
		Start:         rec.Start.UTC(),
		End:           rec.End.UTC(),
		Status:        int(rec.Status),
		BroadcastLive: rec.BroadcastLive,
	}
}

func (r eventRow) toModel() models.EventRecord {
	return models.EventRecord{
		ID:            r.ID,
		Kind:          models.Kind(r.Kind),
		Name:          r.Name,
		Description:   r.Description,
		Location:      r.Location,
		AgencyID:      r.AgencyID,
		MediaURL:      r.MediaURL,
		ImageURL:      r.ImageURL,
		Slug:          r.Slug,
		Start:         r.Start.UTC(),
		End:           r.End.UTC(),
		Status:        models.Status(r.Status),
		BroadcastLive: r.BroadcastLive,
	}
}

func (r linkRow) toModel() models.CalendarEntryLink {
	return models.CalendarEntryLink{
		WorkspaceID: r.WorkspaceID,
		ExternalID:  r.ExternalID,
		EventID:     r.EventID,
		State:       models.EntryState(r.State),
		CreatedAt:   r.CreatedAt,
	}
}

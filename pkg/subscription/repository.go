package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/livelaunch/platform/pkg/common/models"
)

type workspaceRow struct {
	WorkspaceID            string         `gorm:"primaryKey;column:workspace_id"`
	ChannelID              string         `gorm:"column:channel_id"`
	WebhookURL             string         `gorm:"column:webhook_url"`
	NotificationChannelID  string         `gorm:"column:notification_channel_id"`
	NotificationWebhookURL string         `gorm:"column:notification_webhook_url"`
	ScheduledEvents        int            `gorm:"column:scheduled_events"`
	SELaunch               bool           `gorm:"column:se_launch"`
	SEEvent                bool           `gorm:"column:se_event"`
	SENoURL                bool           `gorm:"column:se_no_url"`
	AgencyFilterMode       int            `gorm:"column:agencies_include_exclude"`
	AgencyIDs              datatypes.JSON `gorm:"column:agency_ids"`
	NotificationLaunch     bool           `gorm:"column:notification_launch"`
	NotificationEvent      bool           `gorm:"column:notification_event"`
	NotificationCategories datatypes.JSON `gorm:"column:notification_categories"`
	UpdatedAt              time.Time      `gorm:"column:updated_at"`
}

func (workspaceRow) TableName() string { return "enabled_workspaces" }

// Repository is the Postgres-backed Directory. Rows are written by the
// command layer; the engine only reads them and applies the two mutations
// in Directory plus Cleanup.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&workspaceRow{})
}

// Save writes a full workspace row. Used by the settings side and tests.
func (r *Repository) Save(ctx context.Context, w Workspace) error {
	row, err := toRow(w)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *Repository) Get(ctx context.Context, id string) (Workspace, error) {
	var row workspaceRow
	result := r.db.WithContext(ctx).First(&row, "workspace_id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return Workspace{}, ErrNotFound
	}
	if result.Error != nil {
		return Workspace{}, result.Error
	}
	return row.toModel()
}

func (r *Repository) CalendarWorkspaces(ctx context.Context) ([]Workspace, error) {
	return r.find(ctx, r.db.Where("scheduled_events > 0"))
}

func (r *Repository) StatusSubscribers(ctx context.Context, category Category, kind models.Kind) ([]Workspace, error) {
	q := r.db.Where("notification_webhook_url <> ''")
	if kind == models.KindEvent {
		q = q.Where("notification_event = ?", true)
	} else {
		q = q.Where("notification_launch = ?", true)
	}
	candidates, err := r.find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, w := range candidates {
		if w.Subscribed(category) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *Repository) MediaSubscribers(ctx context.Context) ([]Workspace, error) {
	return r.find(ctx, r.db.Where("webhook_url <> ''"))
}

func (r *Repository) DisableCalendar(ctx context.Context, workspaceID string) error {
	return r.update(ctx, workspaceID, map[string]interface{}{"scheduled_events": 0})
}

func (r *Repository) ClearDestination(ctx context.Context, workspaceID string, target Target) error {
	switch target {
	case TargetMedia:
		return r.update(ctx, workspaceID, map[string]interface{}{"channel_id": "", "webhook_url": ""})
	case TargetNotification:
		return r.update(ctx, workspaceID, map[string]interface{}{"notification_channel_id": "", "notification_webhook_url": ""})
	}
	return fmt.Errorf("unknown destination target %q", target)
}

// Cleanup removes workspaces that have nothing left enabled.
func (r *Repository) Cleanup(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("webhook_url = '' AND notification_webhook_url = '' AND scheduled_events = 0").
		Delete(&workspaceRow{})
	return result.RowsAffected, result.Error
}

func (r *Repository) update(ctx context.Context, workspaceID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&workspaceRow{}).
		Where("workspace_id = ?", workspaceID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) find(ctx context.Context, q *gorm.DB) ([]Workspace, error) {
	var rows []workspaceRow
	if err := q.WithContext(ctx).Order("workspace_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Workspace, 0, len(rows))
	for _, row := range rows {
		w, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("workspace %s: %w", row.WorkspaceID, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func toRow(w Workspace) (workspaceRow, error) {
	agencies, err := json.Marshal(nonNilInts(w.AgencyIDs))
	if err != nil {
		return workspaceRow{}, err
	}
	categories, err := json.Marshal(nonNilCategories(w.Categories))
	if err != nil {
		return workspaceRow{}, err
	}
	return workspaceRow{
		WorkspaceID:            w.ID,
		ChannelID:              w.Media.ChannelID,
		WebhookURL:             w.Media.WebhookURL,
		NotificationChannelID:  w.Notification.ChannelID,
		NotificationWebhookURL: w.Notification.WebhookURL,
		ScheduledEvents:        w.CalendarMaxEntries,
		SELaunch:               w.CalendarLaunches,
		SEEvent:                w.CalendarEvents,
		SENoURL:                w.CalendarIncludeNoURL,
		AgencyFilterMode:       int(w.AgencyFilter),
		AgencyIDs:              datatypes.JSON(agencies),
		NotificationLaunch:     w.NotifyLaunches,
		NotificationEvent:      w.NotifyEvents,
		NotificationCategories: datatypes.JSON(categories),
	}, nil
}

func (r workspaceRow) toModel() (Workspace, error) {
	w := Workspace{
		ID:                   r.WorkspaceID,
		Media:                Destination{ChannelID: r.ChannelID, WebhookURL: r.WebhookURL},
		Notification:         Destination{ChannelID: r.NotificationChannelID, WebhookURL: r.NotificationWebhookURL},
		CalendarMaxEntries:   r.ScheduledEvents,
		CalendarLaunches:     r.SELaunch,
		CalendarEvents:       r.SEEvent,
		CalendarIncludeNoURL: r.SENoURL,
		AgencyFilter:         FilterMode(r.AgencyFilterMode),
		NotifyLaunches:       r.NotificationLaunch,
		NotifyEvents:         r.NotificationEvent,
		UpdatedAt:            r.UpdatedAt,
	}
	if len(r.AgencyIDs) > 0 {
		if err := json.Unmarshal(r.AgencyIDs, &w.AgencyIDs); err != nil {
			return Workspace{}, fmt.Errorf("decode agency ids: %w", err)
		}
	}
	if len(r.NotificationCategories) > 0 {
		if err := json.Unmarshal(r.NotificationCategories, &w.Categories); err != nil {
			return Workspace{}, fmt.Errorf("decode notification categories: %w", err)
		}
	}
	return w, nil
}

func nonNilInts(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}

func nonNilCategories(in []Category) []Category {
	if in == nil {
		return []Category{}
	}
	return in
}

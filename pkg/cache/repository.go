package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/livelaunch/platform/pkg/common/models"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&eventRow{}, &agencyRow{}, &linkRow{}, &sentMediaRow{})
}

func (r *Repository) Events(ctx context.Context) ([]models.EventRecord, error) {
	var rows []eventRow
	if err := r.db.WithContext(ctx).Order("start_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.EventRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *Repository) GetEvent(ctx context.Context, id string) (models.EventRecord, error) {
	var row eventRow
	result := r.db.WithContext(ctx).First(&row, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.EventRecord{}, ErrNotFound
	}
	if result.Error != nil {
		return models.EventRecord{}, result.Error
	}
	return row.toModel(), nil
}

func (r *Repository) PutEvent(ctx context.Context, rec models.EventRecord) error {
	row := toEventRow(rec)
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// DeleteEvent removes the event and any links still pointing at it.
func (r *Repository) DeleteEvent(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&linkRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&eventRow{}).Error
	})
}

func (r *Repository) PutAgency(ctx context.Context, agency models.Agency) error {
	row := agencyRow{ID: agency.ID, Name: agency.Name, LogoURL: agency.LogoURL}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agency_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&row).Error
}

func (r *Repository) GetAgency(ctx context.Context, id int) (models.Agency, error) {
	var row agencyRow
	result := r.db.WithContext(ctx).First(&row, "agency_id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.Agency{}, ErrNotFound
	}
	if result.Error != nil {
		return models.Agency{}, result.Error
	}
	return models.Agency{ID: row.ID, Name: row.Name, LogoURL: row.LogoURL}, nil
}

func (r *Repository) LinksByEvent(ctx context.Context, eventID string) ([]models.CalendarEntryLink, error) {
	return r.findLinks(ctx, "event_id = ?", eventID)
}

func (r *Repository) LinksByWorkspace(ctx context.Context, workspaceID string) ([]models.CalendarEntryLink, error) {
	return r.findLinks(ctx, "workspace_id = ?", workspaceID)
}

func (r *Repository) LinkWorkspaces(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&linkRow{}).
		Distinct("workspace_id").
		Order("workspace_id").
		Pluck("workspace_id", &ids).Error
	return ids, err
}

// PutLink replaces whatever link the (workspace, event) pair had.
func (r *Repository) PutLink(ctx context.Context, link models.CalendarEntryLink) error {
	row := linkRow{
		ExternalID:  link.ExternalID,
		WorkspaceID: link.WorkspaceID,
		EventID:     link.EventID,
		State:       string(link.State),
		CreatedAt:   link.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workspace_id = ? AND event_id = ? AND external_id <> ?",
			row.WorkspaceID, row.EventID, row.ExternalID).Delete(&linkRow{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (r *Repository) DeleteLink(ctx context.Context, workspaceID, eventID string) error {
	return r.db.WithContext(ctx).
		Where("workspace_id = ? AND event_id = ?", workspaceID, eventID).
		Delete(&linkRow{}).Error
}

func (r *Repository) SentMediaExists(ctx context.Context, mediaID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&sentMediaRow{}).Where("media_id = ?", mediaID).Count(&count).Error
	return count > 0, err
}

func (r *Repository) MarkSentMedia(ctx context.Context, mediaID string) (bool, error) {
	row := sentMediaRow{MediaID: mediaID, SentAt: time.Now().UTC()}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CleanupSentMedia drops markers older than ttl. Markers only need to
// outlive the window in which a feed can still report the same media.
func (r *Repository) CleanupSentMedia(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).Where("sent_at < ?", cutoff).Delete(&sentMediaRow{}).Error
}

func (r *Repository) findLinks(ctx context.Context, query string, arg string) ([]models.CalendarEntryLink, error) {
	var rows []linkRow
	if err := r.db.WithContext(ctx).Where(query, arg).Order("workspace_id, event_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.CalendarEntryLink, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

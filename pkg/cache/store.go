package cache

import (
	"context"
	"errors"

	"github.com/livelaunch/platform/pkg/common/models"
)

var ErrNotFound = errors.New("cache record not found")

// Store is the durable mirror of upstream state plus the per-workspace
// calendar links and sent-media markers. Implementations are safe for
// concurrent use; each method is atomic for the key it touches.
type Store interface {
	Events(ctx context.Context) ([]models.EventRecord, error)
	GetEvent(ctx context.Context, id string) (models.EventRecord, error)
	PutEvent(ctx context.Context, rec models.EventRecord) error
	DeleteEvent(ctx context.Context, id string) error

	PutAgency(ctx context.Context, agency models.Agency) error
	GetAgency(ctx context.Context, id int) (models.Agency, error)

	LinksByEvent(ctx context.Context, eventID string) ([]models.CalendarEntryLink, error)
	LinksByWorkspace(ctx context.Context, workspaceID string) ([]models.CalendarEntryLink, error)
	// LinkWorkspaces lists every workspace that owns at least one link.
	LinkWorkspaces(ctx context.Context) ([]string, error)
	PutLink(ctx context.Context, link models.CalendarEntryLink) error
	DeleteLink(ctx context.Context, workspaceID, eventID string) error

	SentMediaExists(ctx context.Context, mediaID string) (bool, error)
	// MarkSentMedia inserts the marker if absent and reports whether it did.
	MarkSentMedia(ctx context.Context, mediaID string) (bool, error)
}

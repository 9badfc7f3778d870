package subscription

import (
	"context"
	"errors"

	"github.com/livelaunch/platform/pkg/common/models"
)

var ErrNotFound = errors.New("workspace not found")

// Directory is the read side of workspace settings plus the two mutations
// the reconciliation engine is allowed to make.
type Directory interface {
	CalendarWorkspaces(ctx context.Context) ([]Workspace, error)
	StatusSubscribers(ctx context.Context, category Category, kind models.Kind) ([]Workspace, error)
	MediaSubscribers(ctx context.Context) ([]Workspace, error)

	DisableCalendar(ctx context.Context, workspaceID string) error
	ClearDestination(ctx context.Context, workspaceID string, target Target) error
}

// Package feed turns upstream sources into canonical event records and
// media sightings. Adapters never return a partial snapshot: a failed or
// empty fetch is reported as ErrFeedUnavailable so the caller leaves its
// cache untouched.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
)

var ErrFeedUnavailable = errors.New("upstream feed unavailable")

// Snapshot is the full set of events an adapter reports in one poll, keyed
// by upstream ID.
type Snapshot map[string]models.EventRecord

type Adapter interface {
	Name() string
	Fetch(ctx context.Context) (Snapshot, error)
}

// ContentItem is one video seen on a lightweight content feed.
type ContentItem struct {
	ChannelID string
	VideoID   string
	Title     string
	Published time.Time
}

type ContentFeed interface {
	Name() string
	Items(ctx context.Context) ([]ContentItem, error)
}

// Static is an Adapter over a fixed snapshot. A nil or empty snapshot
// behaves like an outage.
type Static struct {
	Label    string
	Snapshot Snapshot
	Err      error
}

func (s *Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s *Static) Fetch(ctx context.Context) (Snapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Snapshot) == 0 {
		return nil, ErrFeedUnavailable
	}
	out := make(Snapshot, len(s.Snapshot))
	for id, rec := range s.Snapshot {
		out[id] = rec
	}
	return out, nil
}

// Package media decides, once and durably, whether a piece of media has
// already been announced, whichever feed discovered it.
package media

import (
	"context"
	"fmt"

	"github.com/livelaunch/platform/pkg/common/logger"
)

// Markers is the durable half of the gate. cache.Store satisfies it.
type Markers interface {
	SentMediaExists(ctx context.Context, mediaID string) (bool, error)
	MarkSentMedia(ctx context.Context, mediaID string) (bool, error)
}

// Gate combines the durable sent markers with an atomic claim. Every feed
// path must share the same Gate (or the same Markers and Claimer backends).
type Gate struct {
	markers  Markers
	claimer  Claimer
	excluded map[string]struct{}
}

func NewGate(markers Markers, claimer Claimer, excluded ...string) *Gate {
	if claimer == nil {
		claimer = NewLocalClaimer()
	}
	g := &Gate{markers: markers, claimer: claimer, excluded: make(map[string]struct{}, len(excluded))}
	for _, id := range excluded {
		g.excluded[id] = struct{}{}
	}
	return g
}

// ShouldAnnounce reports whether id is still unannounced and, if so, claims
// it. Exactly one concurrent caller gets true for a given id; that caller
// must follow up with MarkSent or Release.
func (g *Gate) ShouldAnnounce(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if _, skip := g.excluded[id]; skip {
		return false, nil
	}
	sent, err := g.markers.SentMediaExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check sent media %s: %w", id, err)
	}
	if sent {
		return false, nil
	}
	claimed, err := g.claimer.Claim(ctx, id)
	if err != nil || !claimed {
		return false, err
	}
	// Re-check under the claim: a previous holder may have marked and
	// released between the first check and the claim.
	sent, err = g.markers.SentMediaExists(ctx, id)
	if err != nil || sent {
		g.release(ctx, id)
		if err != nil {
			return false, fmt.Errorf("check sent media %s: %w", id, err)
		}
		return false, nil
	}
	return true, nil
}

// MarkSent records id as announced and drops the claim. Marking an already
// marked id is a no-op.
func (g *Gate) MarkSent(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := g.markers.MarkSentMedia(ctx, id); err != nil {
		return fmt.Errorf("mark sent media %s: %w", id, err)
	}
	g.release(ctx, id)
	return nil
}

// Release drops a claim without marking, so a later cycle may retry.
func (g *Gate) Release(ctx context.Context, id string) {
	g.release(ctx, id)
}

func (g *Gate) release(ctx context.Context, id string) {
	if err := g.claimer.Release(ctx, id); err != nil {
		logger.WithField("media_id", id).WithError(err).Warn("Failed to release media claim")
	}
}

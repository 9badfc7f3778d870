package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/feed"
	"github.com/livelaunch/platform/pkg/media"
	"github.com/livelaunch/platform/pkg/notify"
	"github.com/livelaunch/platform/pkg/observability/metrics"
)

// candidate is a piece of media one feed path has seen. channelID is set
// when the feed already knows the publisher.
type candidate struct {
	mediaID   string
	channelID string
}

// announcer is the media path shared by both loops: gate, channel lookup,
// batch dispatch. Both loops must be built over the same gate.
type announcer struct {
	gate     *media.Gate
	channels media.ChannelResolver
	notifier *notify.Dispatcher
	feed     string
	publish  func(ctx context.Context, eventType string, data map[string]interface{})
	log      *logrus.Entry
}

func newAnnouncer(gate *media.Gate, channels media.ChannelResolver, notifier *notify.Dispatcher, feedName string, publish func(context.Context, string, map[string]interface{})) *announcer {
	return &announcer{
		gate:     gate,
		channels: channels,
		notifier: notifier,
		feed:     feedName,
		publish:  publish,
		log:      logger.Component("media").WithField("feed", feedName),
	}
}

// announce claims every unannounced candidate, resolves its channel and
// dispatches the batch. It returns how many items were marked sent.
func (a *announcer) announce(ctx context.Context, candidates []candidate) int {
	if a.gate == nil || len(candidates) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(candidates))
	var batch []models.MediaAnnouncement
	for _, c := range candidates {
		if seen[c.mediaID] {
			continue
		}
		seen[c.mediaID] = true
		log := a.log.WithField("media_id", c.mediaID)

		ok, err := a.gate.ShouldAnnounce(ctx, c.mediaID)
		if err != nil {
			log.WithError(err).Warn("Media gate check failed")
			continue
		}
		if !ok {
			continue
		}
		item, err := a.resolve(ctx, c)
		if err != nil {
			// Unclaim so a later cycle can retry the lookup.
			log.WithError(err).Warn("Failed to resolve media channel")
			a.gate.Release(ctx, c.mediaID)
			continue
		}
		batch = append(batch, item)
	}
	if len(batch) == 0 {
		return 0
	}

	report, err := a.notifier.NotifyMedia(ctx, batch)
	if err != nil {
		a.log.WithError(err).Error("Failed to dispatch media batch")
	}
	marked := make(map[string]bool, len(report.Marked))
	for _, id := range report.Marked {
		marked[id] = true
	}
	announced := batch[:0:0]
	for _, item := range batch {
		if !marked[item.MediaID] {
			// Unmarked items go back to the pool for the next cycle.
			a.gate.Release(ctx, item.MediaID)
			continue
		}
		announced = append(announced, item)
	}
	if len(announced) == 0 {
		return 0
	}

	metrics.MediaAnnounced(a.feed, len(announced))
	a.log.WithFields(logrus.Fields{
		"items":        len(announced),
		"destinations": report.Destinations,
		"delivered":    report.Delivered,
		"failed":       report.Failed,
	}).Info("Media announced")
	if a.publish != nil {
		for _, item := range announced {
			a.publish(ctx, models.MediaAnnounced, map[string]interface{}{
				"media_id": item.MediaID,
				"channel":  item.ChannelName,
				"feed":     a.feed,
			})
		}
	}
	return len(announced)
}

func (a *announcer) resolve(ctx context.Context, c candidate) (models.MediaAnnouncement, error) {
	item := models.MediaAnnouncement{MediaID: c.mediaID}
	if a.channels == nil {
		return item, nil
	}
	var (
		ch  media.Channel
		err error
	)
	if c.channelID != "" {
		ch, err = a.channels.Channel(ctx, c.channelID)
	} else {
		ch, err = a.channels.VideoChannel(ctx, c.mediaID)
	}
	if err != nil {
		return item, err
	}
	item.ChannelName = ch.Name
	item.ChannelAvatar = ch.AvatarURL
	return item, nil
}

// MediaSweep is the lightweight loop: it only feeds content-feed sightings
// through the shared gate.
type MediaSweep struct {
	feed  feed.ContentFeed
	media *announcer
	log   *logrus.Entry
}

func NewMediaSweep(content feed.ContentFeed, gate *media.Gate, channels media.ChannelResolver, notifier *notify.Dispatcher, publisher Publisher) *MediaSweep {
	s := &MediaSweep{
		feed: content,
		log:  logger.Component("reconcile").WithField("loop", content.Name()),
	}
	publish := func(ctx context.Context, eventType string, data map[string]interface{}) {
		if publisher == nil {
			return
		}
		if err := publisher.PublishEvent(ctx, eventType, sourceName, data); err != nil {
			s.log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish change event")
		}
	}
	s.media = newAnnouncer(gate, channels, notifier, content.Name(), publish)
	return s
}

func (s *MediaSweep) Name() string { return s.feed.Name() }

func (s *MediaSweep) RunCycle(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep announces every new item of the content feed and returns how many
// were dispatched.
func (s *MediaSweep) Sweep(ctx context.Context) (int, error) {
	items, err := s.feed.Items(ctx)
	if err != nil {
		return 0, err
	}
	candidates := make([]candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, candidate{mediaID: item.VideoID, channelID: item.ChannelID})
	}
	return s.media.announce(ctx, candidates), nil
}

package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/gateway/httpclient"
)

const defaultYouTubeFeedBase = "https://www.youtube.com/feeds/videos.xml"

// YouTubeRSS is the lightweight content feed: the public Atom feed of a
// fixed list of channels, polled more often than the structured feed.
type YouTubeRSS struct {
	baseURL  string
	channels []string
	window   time.Duration
	client   *http.Client
	clock    clock.Clock
}

type RSSOption func(*YouTubeRSS)

func WithRSSBaseURL(base string) RSSOption {
	return func(r *YouTubeRSS) { r.baseURL = base }
}

func WithRSSClock(c clock.Clock) RSSOption {
	return func(r *YouTubeRSS) { r.clock = c }
}

// NewYouTubeRSS reports videos published within window of now.
func NewYouTubeRSS(channels []string, window, timeout time.Duration, opts ...RSSOption) *YouTubeRSS {
	r := &YouTubeRSS{
		baseURL:  defaultYouTubeFeedBase,
		channels: channels,
		window:   window,
		client:   httpclient.New(timeout),
		clock:    clock.System(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *YouTubeRSS) Name() string { return "youtube_rss" }

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	VideoID   string    `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string    `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string    `xml:"http://www.w3.org/2005/Atom title"`
	Published time.Time `xml:"http://www.w3.org/2005/Atom published"`
}

// Items polls every channel concurrently. A failing channel is logged and
// skipped; only when every channel fails is the poll an outage.
func (r *YouTubeRSS) Items(ctx context.Context) ([]ContentItem, error) {
	if len(r.channels) == 0 {
		return nil, nil
	}
	cutoff := r.clock.Now().Add(-r.window)
	log := logger.Component("feed").WithField("feed", r.Name())

	perChannel := make([][]ContentItem, len(r.channels))
	failures := make([]error, len(r.channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, channelID := range r.channels {
		g.Go(func() error {
			items, err := r.channel(gctx, channelID, cutoff)
			if err != nil {
				log.WithError(err).WithField("channel_id", channelID).Warn("Failed to read channel feed")
				failures[i] = err
				return nil
			}
			perChannel[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var out []ContentItem
	failed := 0
	for i := range r.channels {
		if failures[i] != nil {
			failed++
			continue
		}
		out = append(out, perChannel[i]...)
	}
	if failed == len(r.channels) {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, errors.Join(failures...))
	}
	return out, nil
}

func (r *YouTubeRSS) channel(ctx context.Context, channelID string, cutoff time.Time) ([]ContentItem, error) {
	endpoint := r.baseURL + "?" + url.Values{"channel_id": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpclient.StatusError{Status: resp.StatusCode}
	}

	var doc atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode channel feed: %w", err)
	}

	var out []ContentItem
	for _, e := range doc.Entries {
		if e.VideoID == "" || e.Published.Before(cutoff) {
			continue
		}
		item := ContentItem{
			ChannelID: strings.TrimSpace(e.ChannelID),
			VideoID:   strings.TrimSpace(e.VideoID),
			Title:     e.Title,
			Published: e.Published.UTC(),
		}
		if item.ChannelID == "" {
			item.ChannelID = channelID
		}
		out = append(out, item)
	}
	return out, nil
}

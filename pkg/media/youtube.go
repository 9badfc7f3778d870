package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/gateway/httpclient"
)

var ErrUnknownChannel = errors.New("youtube channel not found")

// Channel identifies the publisher of a piece of media.
type Channel struct {
	ID        string
	Name      string
	AvatarURL string
}

type ChannelResolver interface {
	VideoChannel(ctx context.Context, videoID string) (Channel, error)
	Channel(ctx context.Context, channelID string) (Channel, error)
}

const defaultYouTubeAPI = "https://www.googleapis.com/youtube/v3"

type cachedChannel struct {
	channel Channel
	expires time.Time
}

// YouTubeResolver looks channels up through the YouTube Data API and keeps
// the answers for ttl.
type YouTubeResolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
	clock   clock.Clock
	ttl     time.Duration

	mu       sync.Mutex
	videos   map[string]string
	channels map[string]cachedChannel
}

type YouTubeOption func(*YouTubeResolver)

func WithYouTubeBaseURL(base string) YouTubeOption {
	return func(r *YouTubeResolver) { r.baseURL = base }
}

func WithYouTubeClock(c clock.Clock) YouTubeOption {
	return func(r *YouTubeResolver) { r.clock = c }
}

func NewYouTubeResolver(apiKey string, timeout time.Duration, opts ...YouTubeOption) *YouTubeResolver {
	r := &YouTubeResolver{
		baseURL:  defaultYouTubeAPI,
		apiKey:   apiKey,
		client:   httpclient.New(timeout),
		clock:    clock.System(),
		ttl:      6 * time.Hour,
		videos:   make(map[string]string),
		channels: make(map[string]cachedChannel),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type snippetResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
			Title        string `json:"title"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func (r *YouTubeResolver) VideoChannel(ctx context.Context, videoID string) (Channel, error) {
	r.mu.Lock()
	channelID, ok := r.videos[videoID]
	r.mu.Unlock()
	if !ok {
		var resp snippetResponse
		if err := r.get(ctx, "videos", videoID, &resp); err != nil {
			return Channel{}, err
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet.ChannelID == "" {
			return Channel{}, fmt.Errorf("video %s: %w", videoID, ErrUnknownChannel)
		}
		channelID = resp.Items[0].Snippet.ChannelID
		r.mu.Lock()
		r.videos[videoID] = channelID
		r.mu.Unlock()
	}
	return r.Channel(ctx, channelID)
}

func (r *YouTubeResolver) Channel(ctx context.Context, channelID string) (Channel, error) {
	now := r.clock.Now()
	r.mu.Lock()
	hit, ok := r.channels[channelID]
	r.mu.Unlock()
	if ok && now.Before(hit.expires) {
		return hit.channel, nil
	}

	var resp snippetResponse
	if err := r.get(ctx, "channels", channelID, &resp); err != nil {
		return Channel{}, err
	}
	if len(resp.Items) == 0 {
		return Channel{}, fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	item := resp.Items[0]
	ch := Channel{ID: channelID, Name: item.Snippet.Title}
	for _, size := range []string{"default", "medium", "high"} {
		if thumb, ok := item.Snippet.Thumbnails[size]; ok && thumb.URL != "" {
			ch.AvatarURL = thumb.URL
			break
		}
	}

	r.mu.Lock()
	r.channels[channelID] = cachedChannel{channel: ch, expires: now.Add(r.ttl)}
	r.mu.Unlock()
	return ch, nil
}

func (r *YouTubeResolver) get(ctx context.Context, resource, id string, out interface{}) error {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", id)
	q.Set("key", r.apiKey)
	endpoint := fmt.Sprintf("%s/%s?%s", r.baseURL, resource, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("youtube %s %s: %w", resource, id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s %s: unexpected status %d", resource, id, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode youtube %s: %w", resource, err)
	}
	return nil
}

package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/common/clock"
)

func TestYouTubeResolver(t *testing.T) {
	var channelCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/videos":
			if r.URL.Query().Get("id") == "missing" {
				w.Write([]byte(`{"items":[]}`))
				return
			}
			w.Write([]byte(`{"items":[{"id":"vid","snippet":{"channelId":"UCspace","channelTitle":"Space"}}]}`))
		case "/channels":
			channelCalls.Add(1)
			w.Write([]byte(`{"items":[{"id":"UCspace","snippet":{"title":"Space Channel","thumbnails":{"default":{"url":"https://img/avatar.jpg"}}}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewYouTubeResolver("secret", time.Second, WithYouTubeBaseURL(server.URL), WithYouTubeClock(clk))
	ctx := context.Background()

	ch, err := r.VideoChannel(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, Channel{ID: "UCspace", Name: "Space Channel", AvatarURL: "https://img/avatar.jpg"}, ch)

	_, err = r.Channel(ctx, "UCspace")
	require.NoError(t, err)
	assert.Equal(t, int32(1), channelCalls.Load(), "second lookup is cached")

	clk.Advance(7 * time.Hour)
	_, err = r.Channel(ctx, "UCspace")
	require.NoError(t, err)
	assert.Equal(t, int32(2), channelCalls.Load(), "expired entry is refetched")

	_, err = r.VideoChannel(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

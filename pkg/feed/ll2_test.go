package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/models"
)

const launchesJSON = `{"results":[
 {"id":"a1b2","name":"Falcon 9 Block 5 | Starlink","slug":"falcon-9-starlink","net":"2026-07-01T14:30:00Z",
  "net_precision":{"id":2},"status":{"id":1},"webcast_live":false,
  "vid_urls":[{"url":"https://www.youtube.com/watch?v=second","priority":20},{"url":"https://youtu.be/first","priority":10}],
  "image":{"image_url":"https://cdn/falcon.png"},"mission":{"description":"Batch of satellites."},
  "pad":{"location":{"name":"Cape Canaveral, FL, USA"}},"launch_service_provider":{"id":121,"name":"SpaceX"}},
 {"id":"c3d4","name":"Electron | Rideshare","net":"2026-07-02T00:00:00Z","status":{"id":2},
  "image":{"image_url":"https://cdn/page.html"}}
]}`

const eventsJSON = `{"results":[
 {"id":812,"name":"ISS Spacewalk","date":"2026-07-01T13:00:00Z","date_precision":{"id":1},"type":{"name":"EVA"},
  "location":"International Space Station","webcast_live":true,"vid_urls":[]},
 {"id":813,"name":"Press Conference","date":"2026-07-03T16:00:00Z","duration":"PT1H30M","location":""}
]}`

func ll2Server(t *testing.T, launches, events string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/launches/upcoming/":
			assert.Equal(t, "detailed", r.URL.Query().Get("mode"))
			w.Write([]byte(launches))
		case "/events/upcoming/":
			w.Write([]byte(events))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLL2FetchMergesLaunchesAndEvents(t *testing.T) {
	server := ll2Server(t, launchesJSON, eventsJSON)
	clk := clock.NewManual(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	client := NewLL2Client(server.URL, "secret", time.Second, WithLL2Clock(clk))

	snap, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 4)

	f9 := snap["a1b2"]
	assert.Equal(t, models.KindLaunch, f9.Kind)
	assert.Equal(t, "[NET 14:00 UTC] Falcon 9 Block 5 | Starlink", f9.Name)
	assert.Equal(t, "https://youtu.be/first", f9.MediaURL, "lowest priority wins")
	assert.Equal(t, "https://cdn/falcon.png", f9.ImageURL)
	assert.Equal(t, "Cape Canaveral, FL, USA", f9.Location)
	assert.Equal(t, 121, f9.AgencyID)
	assert.Equal(t, "SpaceX", f9.AgencyName)
	assert.Equal(t, models.StatusGo, f9.Status)
	assert.Equal(t, time.Hour, f9.End.Sub(f9.Start))

	electron := snap["c3d4"]
	assert.Equal(t, "[TBD] Electron | Rideshare", electron.Name)
	assert.Equal(t, models.NoStream, electron.MediaURL)
	assert.Empty(t, electron.ImageURL, "non-image urls are dropped")
	assert.Equal(t, "Unknown", electron.Location)

	eva := snap["812"]
	assert.Equal(t, models.KindEvent, eva.Kind)
	assert.True(t, eva.BroadcastLive)
	assert.Equal(t, 6*time.Hour, eva.End.Sub(eva.Start))

	press := snap["813"]
	assert.Equal(t, "[TBD] Press Conference", press.Name)
	assert.Equal(t, 90*time.Minute, press.End.Sub(press.Start))
	assert.Equal(t, "Unknown", press.Location)

	for id, rec := range snap {
		assert.False(t, rec.End.Before(rec.Start), id)
	}
}

func TestLL2FetchEmptyHalfIsOutage(t *testing.T) {
	server := ll2Server(t, launchesJSON, `{"results":[]}`)
	client := NewLL2Client(server.URL, "secret", time.Second)

	snap, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Nil(t, snap)
}

func TestLL2FetchHTTPErrorIsOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)
	client := NewLL2Client(server.URL, "", time.Second)

	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestPrecisionPrefix(t *testing.T) {
	ts := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "[NET 09:00 UTC] ", precisionPrefix(ts, 2))
	assert.Equal(t, "[NET March 5] ", precisionPrefix(ts, 5))
	assert.Equal(t, "[NET March] ", precisionPrefix(ts, 7))
	assert.Equal(t, "[Q1 2026] ", precisionPrefix(ts, 8))
	assert.Equal(t, "[Q4 2026] ", precisionPrefix(ts, 11))
	assert.Equal(t, "[H2 2026] ", precisionPrefix(ts, 13))
	assert.Equal(t, "", precisionPrefix(ts, 1))
}

func TestParseISODuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT2H":    2 * time.Hour,
		"PT1H30M": 90 * time.Minute,
		"P1DT6H":  30 * time.Hour,
		"P1W":     7 * 24 * time.Hour,
		"PT45.5S": 45500 * time.Millisecond,
		"PT0S":    0,
	}
	for in, want := range cases {
		got, err := ParseISODuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "P", "PT", "2H", "P1Y"} {
		_, err := ParseISODuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestStaticAdapter(t *testing.T) {
	_, err := (&Static{}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)

	s := &Static{Snapshot: Snapshot{"x": {ID: "x"}}}
	snap, err := s.Fetch(context.Background())
	require.NoError(t, err)
	delete(snap, "x")
	assert.Len(t, s.Snapshot, 1, "callers get a copy")
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/models"
)

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeLoop struct {
	name      string
	last      time.Time
	err       error
	triggered int
}

func (l *fakeLoop) Name() string               { return l.name }
func (l *fakeLoop) Status() (time.Time, error) { return l.last, l.err }
func (l *fakeLoop) Trigger()                   { l.triggered++ }

func seededStore(t *testing.T) *cache.MemoryStore {
	t.Helper()
	store := cache.NewMemoryStore()
	ctx := context.Background()
	for _, rec := range []models.EventRecord{
		{ID: "past", Kind: models.KindLaunch, Name: "Past", Start: now.Add(-3 * time.Hour), End: now.Add(-2 * time.Hour), Status: models.StatusSuccess},
		{ID: "later", Kind: models.KindLaunch, Name: "Later", Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour), Status: models.StatusGo, MediaURL: models.NoStream},
		{ID: "soon", Kind: models.KindLaunch, Name: "Soon", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Status: models.StatusGo, MediaURL: "https://youtu.be/abcdefghijk"},
		{ID: "spacewalk", Kind: models.KindEvent, Name: "Spacewalk", Start: now.Add(30 * time.Minute), End: now.Add(7 * time.Hour), Status: models.StatusGo},
	} {
		require.NoError(t, store.PutEvent(ctx, rec))
	}
	return store
}

func newTestRouter(t *testing.T, loops ...Loop) http.Handler {
	t.Helper()
	h := NewHandler(seededStore(t), loops, WithClock(clock.NewManual(now)))
	return NewRouter(h, "s3cret")
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter(t), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyWaitsForEveryLoop(t *testing.T) {
	ll2 := &fakeLoop{name: "ll2", last: now}
	rss := &fakeLoop{name: "youtube_rss", err: errors.New("feed unavailable")}
	router := newTestRouter(t, ll2, rss)

	rec := get(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "feed unavailable")

	rss.last, rss.err = now, nil
	rec = get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNextEvent(t *testing.T) {
	router := newTestRouter(t)

	rec := get(t, router, "/api/v1/events/next")
	require.Equal(t, http.StatusOK, rec.Code)
	var got eventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "spacewalk", got.ID)

	rec = get(t, router, "/api/v1/events/next?kind=launch")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "soon", got.ID)
	assert.Equal(t, "https://youtu.be/abcdefghijk", got.MediaURL)

	rec = get(t, router, "/api/v1/events/next?kind=unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpcomingEvents(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []eventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"spacewalk", "soon", "later"}, ids)
	assert.Empty(t, got[2].MediaURL, "the no-stream sentinel is not a url")
}

func TestEventByID(t *testing.T) {
	router := newTestRouter(t)

	rec := get(t, router, "/api/v1/events/past")
	require.Equal(t, http.StatusOK, rec.Code)
	var got eventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusSuccess.String(), got.Status)

	rec = get(t, router, "/api/v1/events/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRequiresToken(t *testing.T) {
	loop := &fakeLoop{name: "ll2"}
	router := newTestRouter(t, loop)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, loop.triggered)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, loop.triggered)
}

func TestTriggerDisabledWithoutToken(t *testing.T) {
	loop := &fakeLoop{name: "ll2"}
	router := NewRouter(NewHandler(cache.NewMemoryStore(), []Loop{loop}), "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, loop.triggered)
}

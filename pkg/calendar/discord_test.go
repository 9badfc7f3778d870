package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/diff"
)

func TestDiscordCreate(t *testing.T) {
	var got scheduledEventPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/guilds/g1/scheduled-events", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"9001"}`))
	}))
	defer srv.Close()

	c := NewDiscordClient("secret", srv.URL, 5*time.Second)
	spec := SpecFor(launch(2 * time.Hour))
	id, err := c.Create(context.Background(), "g1", spec)
	require.NoError(t, err)
	assert.Equal(t, "9001", id)
	assert.Equal(t, spec.Name, got.Name)
	assert.Equal(t, entityTypeExternal, got.EntityType)
	assert.Equal(t, formatTime(spec.Start), got.ScheduledStartTime)
	require.NotNil(t, got.EntityMetadata)
	assert.Equal(t, spec.Location, got.EntityMetadata.Location)
}

func TestDiscordUpdateSendsOnlyPatchedFields(t *testing.T) {
	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/guilds/g1/scheduled-events/9001", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewDiscordClient("secret", srv.URL, 5*time.Second)
	patch := EntryPatch{
		Fields:   diff.FieldSet(0).With(diff.FieldStart),
		Spec:     EntrySpec{Name: "ignored", Start: now.Add(time.Minute)},
		Activate: true,
	}
	require.NoError(t, c.Update(context.Background(), "g1", "9001", patch))
	assert.Equal(t, formatTime(now.Add(time.Minute)), raw["scheduled_start_time"])
	assert.EqualValues(t, eventStatusActive, raw["status"])
	assert.NotContains(t, raw, "name")
}

func TestDiscordErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		class  FailureClass
	}{
		{name: "missing permissions", status: 403, body: `{"code":50013,"message":"Missing Permissions"}`, class: FailurePermission},
		{name: "unknown event", status: 404, body: `{"code":10070,"message":"Unknown Guild Scheduled Event"}`, class: FailurePermanent},
		{name: "server error", status: 503, body: `upstream connect error`, class: FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewDiscordClient("secret", srv.URL, 5*time.Second, WithDiscordAttempts(1))
			err := c.Update(context.Background(), "g1", "9001", EntryPatch{Fields: diff.FieldSet(0).With(diff.FieldName)})
			require.Error(t, err)
			assert.Equal(t, tc.class, Classify(err))
		})
	}
}

func TestDiscordDeleteMissingIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":10070,"message":"Unknown Guild Scheduled Event"}`))
	}))
	defer srv.Close()

	c := NewDiscordClient("secret", srv.URL, 5*time.Second, WithDiscordAttempts(1))
	assert.NoError(t, c.Delete(context.Background(), "g1", "9001"))
}

func TestDiscordCoverImageIsInlined(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	var got scheduledEventPayload
	mux := http.NewServeMux()
	mux.HandleFunc("/cover.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	})
	mux.HandleFunc("/guilds/g1/scheduled-events", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewDiscordClient("secret", srv.URL, 5*time.Second)
	spec := SpecFor(launch(time.Hour))
	spec.ImageURL = srv.URL + "/cover.png"
	_, err := c.Create(context.Background(), "g1", spec)
	require.NoError(t, err)
	assert.Contains(t, got.Image, "data:image/png;base64,")
}

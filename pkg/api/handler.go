// Package api serves the read side of the platform: health, readiness,
// metrics and queries over the cached events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/livelaunch/platform/pkg/cache"
	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/gateway/middleware"
	"github.com/livelaunch/platform/pkg/observability/metrics"
)

// EventReader is the part of cache.Store the API reads.
type EventReader interface {
	Events(ctx context.Context) ([]models.EventRecord, error)
	GetEvent(ctx context.Context, id string) (models.EventRecord, error)
}

// Loop is a running reconciliation loop. reconcile.Runner satisfies it.
type Loop interface {
	Name() string
	Status() (time.Time, error)
	Trigger()
}

type Handler struct {
	events EventReader
	loops  []Loop
	clock  clock.Clock
}

type Option func(*Handler)

func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

func NewHandler(events EventReader, loops []Loop, opts ...Option) *Handler {
	h := &Handler{events: events, loops: loops, clock: clock.System()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the probes, the metrics endpoint and the v1 API.
// Operator endpoints require adminToken.
func NewRouter(h *Handler, adminToken string) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RateLimit(20, 40))
	api.HandleFunc("/events", h.handleUpcoming).Methods(http.MethodGet)
	api.HandleFunc("/events/next", h.handleNext).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", h.handleEvent).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireToken(adminToken))
	admin.HandleFunc("/reconcile", h.handleTrigger).Methods(http.MethodPost)
	return router
}

type loopStatus struct {
	Name        string     `json:"name"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// handleReady reports ready once every loop has completed a cycle.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := true
	statuses := make([]loopStatus, 0, len(h.loops))
	for _, l := range h.loops {
		last, err := l.Status()
		s := loopStatus{Name: l.Name()}
		if !last.IsZero() {
			s.LastSuccess = &last
		} else {
			ready = false
		}
		if err != nil {
			s.LastError = err.Error()
		}
		statuses = append(statuses, s)
	}

	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "starting"
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "loops": statuses})
}

type eventView struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Location      string    `json:"location,omitempty"`
	Agency        string    `json:"agency,omitempty"`
	MediaURL      string    `json:"media_url,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	BroadcastLive bool      `json:"broadcast_live"`
}

func viewOf(rec models.EventRecord) eventView {
	v := eventView{
		ID:            rec.ID,
		Kind:          string(rec.Kind),
		Name:          rec.Name,
		Status:        rec.Status.String(),
		Start:         rec.Start,
		End:           rec.End,
		Location:      rec.Location,
		Agency:        rec.AgencyName,
		ImageURL:      rec.ImageURL,
		BroadcastLive: rec.BroadcastLive,
	}
	if rec.HasStream() {
		v.MediaURL = rec.MediaURL
	}
	return v
}

// upcoming returns the cached events that have not ended, optionally of
// one kind, by start time.
func (h *Handler) upcoming(r *http.Request) ([]models.EventRecord, error) {
	events, err := h.events.Events(r.Context())
	if err != nil {
		return nil, err
	}
	kind := models.Kind(r.URL.Query().Get("kind"))
	now := h.clock.Now()
	out := make([]models.EventRecord, 0, len(events))
	for _, e := range events {
		if !e.End.After(now) {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (h *Handler) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.upcoming(r)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, viewOf(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	events, err := h.upcoming(r)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "no upcoming event", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(events[0]))
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).WithField("event_id", id).Error("failed to fetch event")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.loops))
	for _, l := range h.loops {
		l.Trigger()
		names = append(names, l.Name())
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"triggered": names})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unklstewy/windaloft/internal/db"
	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/pkg/adsb"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// DefaultHistoryWindow is the look-back of GET /wind/{id}/history.
const DefaultHistoryWindow = 6 * time.Hour

// profileResponse is wind.Profile plus the time it was computed.
type profileResponse struct {
	wind.Profile
	ComputedAt time.Time `json:"computed_at"`
}

// handleProfile returns the wind profile of one tracked object.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := wind.ProfileRequest{
		ID:          chi.URLParam(r, "id"),
		Source:      s.source(r),
		Mode:        wind.ParseMode(q.Get("mode")),
		Convention:  wind.ParseConvention(q.Get("convention")),
		ReferenceID: strings.TrimSpace(q.Get("reference")),
		Now:         s.now(),
	}

	var err error
	if req.Since, err = queryTime(q, "since"); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.History, err = queryDuration(q, "history", time.Hour); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Window, err = queryDuration(q, "window", time.Second); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.MaxDistanceKm, _, err = queryPositive(q, "distance_km"); err != nil {
		s.badRequest(w, err)
		return
	}

	profile, err := s.deps.Profiles.Profile(r.Context(), req)
	if err != nil {
		s.serverError(w, r, "failed to compute profile", err)
		return
	}
	s.deps.Metrics.RecordProfile(profile)

	respondJSON(w, http.StatusOK, profileResponse{Profile: profile, ComputedAt: req.Now})
}

// handleRose returns the wind rose of one tracked object.
func (s *Server) handleRose(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := wind.RoseRequest{
		ID:     chi.URLParam(r, "id"),
		Source: s.source(r),
		Now:    s.now(),
	}

	var err error
	if req.History, err = queryDuration(q, "history", time.Hour); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.AltitudeMin, err = queryFloatPtr(q, "alt_min"); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.AltitudeMax, err = queryFloatPtr(q, "alt_max"); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.AltitudeMin != nil && req.AltitudeMax != nil && *req.AltitudeMin > *req.AltitudeMax {
		respondError(w, http.StatusBadRequest, "alt_min must not exceed alt_max")
		return
	}

	rose, err := s.deps.Profiles.Rose(r.Context(), req)
	if err != nil {
		s.serverError(w, r, "failed to compute wind rose", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":              strings.ToLower(req.ID),
		"altitude_source": req.Source.String(),
		"rose":            rose,
	})
}

// handleVertical returns the vertical velocity series of one tracked object.
func (s *Server) handleVertical(w http.ResponseWriter, r *http.Request) {
	req := wind.VerticalRequest{
		ID:     chi.URLParam(r, "id"),
		Source: s.source(r),
		Now:    s.now(),
	}

	var err error
	if req.History, err = queryDuration(r.URL.Query(), "history", time.Hour); err != nil {
		s.badRequest(w, err)
		return
	}

	samples, err := s.deps.Profiles.Vertical(r.Context(), req)
	if err != nil {
		s.serverError(w, r, "failed to estimate vertical velocity", err)
		return
	}
	if samples == nil {
		samples = []wind.VerticalSample{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":              strings.ToLower(req.ID),
		"altitude_source": req.Source.String(),
		"samples":         samples,
	})
}

// handleHistory returns bins persisted by the worker.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	window, err := queryDuration(r.URL.Query(), "hours", time.Hour)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if window == 0 {
		window = DefaultHistoryWindow
	}

	bins, err := s.deps.Bins.History(r.Context(), id, s.now().Add(-window))
	if err != nil {
		s.serverError(w, r, "failed to load wind history", err)
		return
	}
	if bins == nil {
		bins = []db.StoredBin{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":   strings.ToLower(id),
		"bins": bins,
	})
}

// ingestResponse summarizes one POST /reports.
type ingestResponse struct {
	Aircraft int `json:"aircraft"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// handleIngest stores the reports of an aircraft.json style snapshot.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	snap, err := adsb.Decode(body, s.now())
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.badRequest(w, err)
		return
	}

	reports, convErr := snap.Reports(r.URL.Query().Get("data_source"))
	rejected := len(snap.Aircraft) - len(reports)
	if convErr != nil {
		logging.FromContext(r.Context(), s.log).Warn(r.Context(), "snapshot entries rejected",
			logging.Int("rejected", rejected),
			logging.Err(convErr),
		)
	}

	stored, err := s.deps.Reports.InsertReports(r.Context(), reports)
	if err != nil {
		s.serverError(w, r, "failed to store reports", err)
		return
	}
	s.deps.Metrics.RecordIngested(stored)

	respondJSON(w, http.StatusOK, ingestResponse{
		Aircraft: len(snap.Aircraft),
		Accepted: stored,
		Rejected: rejected,
	})
}

// handleListTracked lists tracked objects; ?all=true includes inactive ones.
func (s *Server) handleListTracked(w http.ResponseWriter, r *http.Request) {
	activeOnly := !strings.EqualFold(r.URL.Query().Get("all"), "true")

	objects, err := s.deps.Tracked.List(r.Context(), activeOnly)
	if err != nil {
		s.serverError(w, r, "failed to list tracked objects", err)
		return
	}
	if objects == nil {
		objects = []db.TrackedObject{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tracked": objects,
		"count":   len(objects),
	})
}

// handleGetTracked returns one tracked object, 404 if it was never seen.
func (s *Server) handleGetTracked(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	obj, err := s.deps.Tracked.Get(r.Context(), id)
	if err != nil {
		s.serverError(w, r, "failed to load tracked object", err)
		return
	}
	if obj == nil {
		respondError(w, http.StatusNotFound, "tracked object not found")
		return
	}

	respondJSON(w, http.StatusOK, obj)
}

// handleStartSession starts a tracking session now.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing id")
		return
	}

	obj, err := s.deps.Tracked.StartSession(r.Context(), id, s.now())
	if err != nil {
		s.serverError(w, r, "failed to start session", err)
		return
	}

	respondJSON(w, http.StatusOK, obj)
}

// handleHealth reports whether the data store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.now(),
	})
}

// source reads ?source=, falling back to the configured default.
func (s *Server) source(r *http.Request) wind.AltitudeSource {
	if v := r.URL.Query().Get("source"); v != "" {
		return wind.ParseAltitudeSource(v)
	}
	return s.cfg.DefaultSource
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, err.Error())
}

// serverError logs err and answers 500 without leaking it.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context(), s.log).Error(r.Context(), msg,
		logging.String("path", r.URL.Path),
		logging.Err(err),
	)
	respondError(w, http.StatusInternalServerError, msg)
}

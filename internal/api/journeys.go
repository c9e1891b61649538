package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/httputil"
	"github.com/banshee-data/journey.report/internal/version"
)

// statusParam reads ?status=. ok is false when the parameter is absent.
func statusParam(r *http.Request) (status db.Status, ok bool, err error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", false, nil
	}
	status, err = db.ParseStatus(raw)
	return status, true, err
}

// writeStoreError maps store errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, db.ErrImmutable):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) listJourneys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status, filtered, err := statusParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var journeys []db.Journey
	if filtered {
		journeys, err = s.store.ListJourneysByStatus(r.Context(), status)
	} else {
		journeys, err = s.store.ListJourneys(r.Context())
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list journeys: %v", err))
		return
	}
	httputil.WriteJSONOK(w, journeys)
}

func (s *Server) countJourneys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status, filtered, err := statusParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !filtered {
		status = db.StatusPending
	}

	n, err := s.store.CountJourneysByStatus(r.Context(), status)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count journeys: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"status": status, "count": n})
}

// handleJourneyByID serves /api/journeys/{id} and /api/journeys/{id}/sent.
func (s *Server) handleJourneyByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/journeys/"), "/"), "/")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		httputil.BadRequest(w, "journey id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "sent" {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.markSent(w, r, id)
		return
	}
	if len(parts) > 1 {
		httputil.NotFound(w, "unknown journey resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJourney(w, r, id)
	case http.MethodPatch:
		s.updateJourney(w, r, id)
	case http.MethodDelete:
		s.deleteJourney(w, r, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) getJourney(w http.ResponseWriter, r *http.Request, id string) {
	j, err := s.store.GetJourney(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, j)
}

func (s *Server) updateJourney(w http.ResponseWriter, r *http.Request, id string) {
	var u db.JourneyUpdate
	if err := httputil.DecodeJSON(r, &u); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := u.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.store.UpdateJourney(r.Context(), id, u); err != nil {
		writeStoreError(w, err)
		return
	}
	s.getJourney(w, r, id)
}

func (s *Server) deleteJourney(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.DeleteJourney(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markSent(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.MarkJourneyStatus(r.Context(), id, db.StatusSent); err != nil {
		writeStoreError(w, err)
		return
	}
	s.getJourney(w, r, id)
}

func (s *Server) simulateTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	j, err := s.engine.SimulateTrip(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, j)
}

type debugModeBody struct {
	DebugMode *bool `json:"debug_mode"`
}

func (s *Server) handleDebugMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var body debugModeBody
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if body.DebugMode == nil {
			httputil.BadRequest(w, "debug_mode is required")
			return
		}
		s.engine.SetDebugMode(*body.DebugMode)
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"debug_mode": s.engine.DebugMode()})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{
		Version: version.String(),
		Engine:  s.engine.Status(),
	}
	if s.buffer != nil {
		stats := s.buffer.Stats()
		resp.Admission = &stats
	}
	n, err := s.store.CountJourneysByStatus(r.Context(), db.StatusPending)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count journeys: %v", err))
		return
	}
	resp.Pending = n
	httputil.WriteJSONOK(w, resp)
}

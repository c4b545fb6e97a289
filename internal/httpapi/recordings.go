package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/scribe/internal/recording"
)

type createRecordingRequest struct {
	Title string `json:"title"`
}

type createRecordingResponse struct {
	ID     string           `json:"id"`
	Title  string           `json:"title"`
	Status recording.Status `json:"status"`
}

type updateRecordingRequest struct {
	Title *string `json:"title"`
}

func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	rec, err := s.store.Create(r.Context(), userIDFrom(r), req.Title)
	if err != nil {
		s.logger.Error("create recording failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to create recording")
		return
	}
	s.logger.Info("recording created", "recording_id", rec.ID, "user_id", rec.UserID)
	respondJSON(w, http.StatusCreated, createRecordingResponse{ID: rec.ID, Title: rec.Title, Status: rec.Status})
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = v
	}
	recs, err := s.store.ListByUser(r.Context(), userIDFrom(r), limit)
	if err != nil {
		s.logger.Error("list recordings failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list recordings")
		return
	}
	if recs == nil {
		recs = []recording.Recording{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"recordings": recs})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecording(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecording(w http.ResponseWriter, r *http.Request) {
	var req updateRecordingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if req.Title == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	rec, ok := s.ownedRecording(w, r)
	if !ok {
		return
	}
	updated, err := s.store.Update(r.Context(), rec.ID, recording.Patch{Title: req.Title})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecording(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), rec.ID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if s.coordinator != nil {
		s.coordinator.Discard(rec.ID)
	}
	s.logger.Info("recording deleted", "recording_id", rec.ID, "user_id", rec.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// ownedRecording loads the {id} recording for the caller. Recordings of
// other users are reported as missing.
func (s *Server) ownedRecording(w http.ResponseWriter, r *http.Request) (recording.Recording, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_recording_id", "missing recording id")
		return recording.Recording{}, false
	}
	rec, err := recording.GetOwned(r.Context(), s.store, id, userIDFrom(r))
	if err != nil {
		s.writeStoreError(w, err)
		return recording.Recording{}, false
	}
	return rec, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recording.ErrNotFound), errors.Is(err, recording.ErrForbidden):
		respondError(w, http.StatusNotFound, "recording_not_found", "recording not found")
	case errors.Is(err, recording.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		s.logger.Error("recording store failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "recording store failed")
	}
}

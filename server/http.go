package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/feedback"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/middleware/errorhandler"
)

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type clarifyRequest struct {
	SessionID    string `json:"session_id"`
	UserResponse string `json:"user_response"`
}

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errorskg.Wrap(errorskg.KindValidation, "decode", errorskg.ErrInvalidInput)
	}
	return nil
}

func (s *Server) handleChat(op middleware.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		resp, err := s.call(r.Context(), op, req.Query, req.SessionID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.call(r.Context(), middleware.OpClarify, req.UserResponse, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFeedbackSubmit(w http.ResponseWriter, r *http.Request) {
	var e feedback.Entry
	if err := decode(w, r, &e); err != nil {
		s.writeError(w, err)
		return
	}
	saved, err := s.feedback.Submit(r.Context(), e)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "feedback_id": saved.ID})
}

func (s *Server) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.feedback.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusFor maps a classified failure onto an HTTP status.
func statusFor(f *errorhandler.Failure) int {
	if errors.Is(f, errorskg.ErrNotFound) {
		return http.StatusNotFound
	}
	switch f.ErrorType {
	case errorskg.KindValidation:
		return http.StatusBadRequest
	case errorskg.KindRateLimit:
		return http.StatusTooManyRequests
	case errorskg.KindTimeout:
		return http.StatusGatewayTimeout
	case errorskg.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	f := errorhandler.Classify(err)
	status := statusFor(f)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error_type", f.ErrorType, "error", err)
	}
	writeJSON(w, status, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/jobs"
	"github.com/fpang/scholarship-verification/internal/records"
	"github.com/fpang/scholarship-verification/internal/store"
	"github.com/fpang/scholarship-verification/internal/worker"
)

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, worker.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrInProgress):
		return http.StatusConflict, "verification already in progress for this student"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound, "student not found"
	case errors.Is(err, worker.ErrRecordsUnavailable):
		return http.StatusServiceUnavailable, "records database not configured"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		httpError(w, status, msg, err.Error())
		return
	}
	httpError(w, status, msg)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req worker.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"jobId":   job.ID,
		"status":  job.Status,
		"message": "PV Updated. AI running.",
	})
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID, action, ok := jobs.ParseRoute(r.URL.Path, jobsPrefix)
	if !ok || action != "" {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	job, err := s.svc.Jobs().Get(r.Context(), jobID)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type adminDecisionRequest struct {
	StudentID   string `json:"studentId"`
	Status      string `json:"status"`
	AdminStatus string `json:"admin_status"` // older admin UI
	Remarks     string `json:"remarks"`
}

func (s *Server) handleAdminDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req adminDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status == "" {
		req.Status = req.AdminStatus
	}

	d := worker.AdminDecision{StudentID: req.StudentID, Status: req.Status, Remarks: req.Remarks}
	if err := s.svc.RecordAdminDecision(r.Context(), d); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": d.Status})
}

func (s *Server) handleRAGStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.stats == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	stats := s.stats.Stats(r.Context())
	if stats.Error != "" {
		log.Warn().Str("error", stats.Error).Msg("Case index stats incomplete")
	}
	respondJSON(w, http.StatusOK, stats)
}

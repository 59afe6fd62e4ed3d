// Package api is the HTTP surface of the verification service. The same
// handler serves the standalone server and the API Lambda.
//
// Endpoints:
//
//	GET  /api/health              health check
//	POST /api/pv/submit           submit a physical verification (202 + job)
//	GET  /api/pv/jobs/{id}        poll a job
//	POST /api/pv/quality-check    screen evidence photos
//	POST /api/admin/decision      record the admin's final status
//	GET  /api/rag/stats           case index statistics
package api

import (
	"context"
	"net/http"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/rag"
	"github.com/fpang/scholarship-verification/internal/worker"
)

const (
	jobsPrefix = "/api/pv/jobs/"

	maxJSONBody    = 25 << 20 // voice recordings arrive inline as base64
	maxImageBytes  = 10 << 20
	maxImagesBatch = 10
)

// QualityChecker screens one photo.
type QualityChecker interface {
	Check(ctx context.Context, image []byte, mimeType string) chat.QualityVerdict
}

// StatsSource reports case index statistics.
type StatsSource interface {
	Stats(ctx context.Context) rag.Stats
}

// Server holds the handler dependencies.
type Server struct {
	svc          *worker.Service
	quality      QualityChecker
	stats        StatsSource
	originSecret string
}

// NewServer creates a server. quality and stats may be nil.
func NewServer(svc *worker.Service, quality QualityChecker, stats StatsSource, originSecret string) *Server {
	return &Server{svc: svc, quality: quality, stats: stats, originSecret: originSecret}
}

// Handler returns the routed handler with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/pv/submit", s.handleSubmit)
	mux.HandleFunc(jobsPrefix, s.handleJobRoutes)
	mux.HandleFunc("/api/pv/quality-check", s.handleQualityCheck)
	mux.HandleFunc("/api/admin/decision", s.handleAdminDecision)
	mux.HandleFunc("/api/rag/stats", s.handleRAGStats)
	return withMetrics(withOriginVerify(s.originSecret, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

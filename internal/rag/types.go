// Package rag is the case retrieval index: an append-only similarity store of
// finalized verification cases used to ground new decisions.
package rag

import (
	"errors"
	"fmt"
	"time"
)

// ErrDimensionMismatch is returned when an embedding's length differs from
// the dimension already stored in the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CaseMetadata describes a finalized case.
type CaseMetadata struct {
	StudentID        string    `json:"student_id"`
	District         string    `json:"district"`
	FinalDecision    string    `json:"final_decision"`
	AIDecision       string    `json:"ai_decision"`
	AdminDecision    string    `json:"admin_decision"`
	Score            float64   `json:"score"`
	VerificationDate time.Time `json:"verification_date"`
	HasAdminRemarks  bool      `json:"has_admin_remarks"`
}

// HistoricalCase is one immutable snapshot of a finalized case.
type HistoricalCase struct {
	CaseID        string       `json:"case_id"`
	Embedding     []float32    `json:"embedding,omitempty"`
	NarrativeText string       `json:"narrative_text"`
	Metadata      CaseMetadata `json:"metadata"`
}

// NewCaseID returns "student_{id}_{unixNano}". The time suffix keeps
// repeated verifications of one student distinct.
func NewCaseID(studentID string, at time.Time) string {
	return fmt.Sprintf("student_%s_%d", studentID, at.UnixNano())
}

// Match is a search hit. Distance is cosine distance (0 = identical).
type Match struct {
	Case     HistoricalCase `json:"case"`
	Distance float64        `json:"distance"`
}

// Filter restricts a search by exact metadata match. Empty fields match all.
type Filter struct {
	District string
}

// Stats describes the index for operators.
type Stats struct {
	Enabled     bool   `json:"enabled"`
	Initialized bool   `json:"initialized"`
	Documents   int    `json:"documents"`
	Collection  string `json:"collection"`
	Backend     string `json:"backend"`
	Location    string `json:"location"`
	Error       string `json:"error,omitempty"`
}

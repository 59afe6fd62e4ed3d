package records

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/fpang/scholarship-verification/internal/pipeline"
)

// SummaryHeader prefixes the stored elementsSummary.
const SummaryHeader = "TEXT/AUDIO SUMMARY:\n"

// QualityGood is written to ImageAnalysis.qualityStatus for analyzed sets.
const QualityGood = "GOOD"

// Result is a finished pipeline run ready to be stored.
type Result struct {
	StudentID      string
	VolunteerID    string
	Recommendation string // the volunteer's own recommendation
	AudioKey       string
	Output         *pipeline.Output
}

// verificationColumns maps a run onto PhysicalVerification columns.
func verificationColumns(r Result, now time.Time) map[string]interface{} {
	out := r.Output
	if out == nil {
		out = &pipeline.Output{}
	}
	return map[string]interface{}{
		"comment":          out.EnglishComment,
		"elementsSummary":  SummaryHeader + strings.Join(out.Summary, "; "),
		"sentiment":        out.Decision.Label(),
		"sentiment_text":   out.Score,
		"voice_comments":   out.VoiceText,
		"status":           r.Recommendation,
		"audio_s3_key":     sql.NullString{String: r.AudioKey, Valid: r.AudioKey != ""},
		"verificationDate": now,
	}
}

// imageAnalysisFor returns the ImageAnalysis row for a run, or nil when the
// visual stage produced no points.
func imageAnalysisFor(r Result) (*ImageAnalysis, error) {
	if r.Output == nil || len(r.Output.HouseAnalysis.Points) == 0 {
		return nil, nil
	}
	issues, err := json.Marshal(r.Output.HouseAnalysis.Points)
	if err != nil {
		return nil, fmt.Errorf("marshal house points: %w", err)
	}
	return &ImageAnalysis{
		StudentID:       r.StudentID,
		IssuesFound:     datatypes.JSON(issues),
		ConditionResult: string(r.Output.HouseAnalysis.Condition),
		QualityStatus:   QualityGood,
	}, nil
}

// IsSelected reports whether an admin status marks the student selected.
func IsSelected(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "APPROVED", "SELECT", "SELECTED":
		return true
	}
	return false
}

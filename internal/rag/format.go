package rag

import (
	"fmt"
	"strconv"
	"strings"
)

// NoContext is the retrieval context when no similar cases exist.
const NoContext = "No similar historical cases found."

const (
	contextHeader  = "HISTORICAL CONTEXT - Similar Verified Cases:"
	detailsPreview = 300
)

// FormatContext renders matches as a prompt block for the decision stage.
func FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return NoContext
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for i, m := range matches {
		md := m.Case.Metadata
		district := md.District
		if district == "" {
			district = "Unknown"
		}
		decision := md.FinalDecision
		if decision == "" {
			decision = "UNKNOWN"
		}
		fmt.Fprintf(&b, "\nCase %d:\n- District: %s\n- Decision: %s\n- Score: %s\n- Details: %s...\n",
			i+1, district, decision, strconv.FormatFloat(md.Score, 'f', -1, 64), preview(m.Case.NarrativeText, detailsPreview))
	}
	return b.String()
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CaseDocument is the evidence gathered for an admin-finalized case.
type CaseDocument struct {
	District      string
	AIDecision    string
	AdminDecision string
	Score         float64
	Comments      string
	Voice         string
	Summary       string
	HouseAnalysis string
	AdminRemarks  string
}

// BuildCaseDocument renders the combined text that is embedded for an
// admin-finalized case.
func BuildCaseDocument(d CaseDocument) string {
	lines := []string{
		"District: " + d.District,
		"AI Decision: " + d.AIDecision,
		"Admin Decision: " + d.AdminDecision,
		"Score: " + strconv.FormatFloat(d.Score, 'f', -1, 64),
		"",
		"Comments: " + d.Comments,
		"Voice: " + d.Voice,
		"Summary: " + d.Summary,
		"House Analysis: " + d.HouseAnalysis,
		"Admin Remarks: " + d.AdminRemarks,
	}
	return strings.Join(lines, "\n")
}

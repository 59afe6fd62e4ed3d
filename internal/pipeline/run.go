// Package pipeline sequences the verification stages into one run. A run
// always completes: a stage that fails or panics leaves its neutral output in
// place and the remaining stages carry on.
package pipeline

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/rag"
)

// Input is the evidence submitted for one applicant.
type Input struct {
	TextComment string   `json:"text_comment"`
	AudioPath   string   `json:"audio_path,omitempty"`
	ImagePaths  []string `json:"image_paths,omitempty"`
	IsTanglish  bool     `json:"is_tanglish"`
	District    string   `json:"district,omitempty"`
}

// StageResult records how one stage went.
type StageResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Run is the in-memory state of one pipeline execution.
type Run struct {
	Input Input

	TranslatedText   string
	TranscribedText  string
	MergedText       string
	RetrievedContext string
	QueryEmbedding   []float32

	Summary        []string
	Decision       chat.Decision
	Score          float64
	HousePoints    []string
	HouseCondition chat.Condition

	mu     sync.Mutex
	stages []StageResult
}

func newRun(in Input) *Run {
	verdict := chat.NeutralVerdict()
	house := chat.NeutralHouseReport()
	return &Run{
		Input:            in,
		RetrievedContext: rag.NoContext,
		Summary:          verdict.Summary,
		Decision:         verdict.Decision,
		Score:            verdict.Score,
		HousePoints:      house.Points,
		HouseCondition:   house.Condition,
	}
}

func (r *Run) record(name string, d time.Duration, err error) {
	res := StageResult{Name: name, Duration: d}
	if err != nil {
		res.Error = err.Error()
	}
	r.mu.Lock()
	r.stages = append(r.stages, res)
	r.mu.Unlock()
}

// Stages returns the stage results in completion order.
func (r *Run) Stages() []StageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageResult(nil), r.stages...)
}

// Degraded lists the stages that fell back to neutral output.
func (r *Run) Degraded() []string {
	var out []string
	for _, s := range r.Stages() {
		if s.Error != "" {
			out = append(out, s.Name)
		}
	}
	return out
}

// HouseAnalysis is the visual verdict in Output.
type HouseAnalysis struct {
	Points    []string       `json:"points"`
	Condition chat.Condition `json:"condition"`
}

// Output is the flattened result handed to the records layer and API.
type Output struct {
	EnglishComment string        `json:"english_comment"`
	VoiceText      string        `json:"voice_text"`
	Summary        []string      `json:"summary"`
	Decision       chat.Decision `json:"decision"`
	Score          float64       `json:"score"`
	HouseAnalysis  HouseAnalysis `json:"house_analysis"`
	DegradedStages []string      `json:"degraded_stages,omitempty"`
}

// Output flattens the run.
func (r *Run) Output() *Output {
	return &Output{
		EnglishComment: r.TranslatedText,
		VoiceText:      r.TranscribedText,
		Summary:        nonNil(r.Summary),
		Decision:       r.Decision,
		Score:          r.Score,
		HouseAnalysis: HouseAnalysis{
			Points:    nonNil(r.HousePoints),
			Condition: r.HouseCondition,
		},
		DegradedStages: r.Degraded(),
	}
}

// Case builds the historical case for this run. The narrative is the same
// combined case document an admin-finalized case stores, and it carries no
// embedding so the index embeds that document rather than the query text.
func (r *Run) Case(studentID, district string, at time.Time) rag.HistoricalCase {
	label := r.Decision.Label()
	var house string
	if len(r.HousePoints) > 0 {
		if b, err := json.Marshal(r.HousePoints); err == nil {
			house = string(b)
		}
	}
	doc := rag.BuildCaseDocument(rag.CaseDocument{
		District:      district,
		AIDecision:    label,
		Score:         r.Score,
		Comments:      r.TranslatedText,
		Voice:         r.TranscribedText,
		Summary:       strings.Join(r.Summary, "; "),
		HouseAnalysis: house,
	})
	return rag.HistoricalCase{
		CaseID:        rag.NewCaseID(studentID, at),
		NarrativeText: doc,
		Metadata: rag.CaseMetadata{
			StudentID:        studentID,
			District:         district,
			FinalDecision:    label,
			AIDecision:       label,
			Score:            r.Score,
			VerificationDate: at,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package chat

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fpang/scholarship-verification/internal/jsonutil"
)

// Decision is the recommendation for one applicant.
type Decision string

const (
	DecisionSelect      Decision = "SELECT"
	DecisionDoNotSelect Decision = "DO_NOT_SELECT"
	DecisionOnHold      Decision = "ON_HOLD"
)

// ParseDecision normalizes a model or database label. Legacy spellings with
// spaces and "REJECT" are accepted; anything unrecognized is ON_HOLD.
func ParseDecision(s string) Decision {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "SELECT", "SELECTED", "APPROVE", "APPROVED":
		return DecisionSelect
	case "DO_NOT_SELECT", "NOT_SELECTED", "REJECT", "REJECTED":
		return DecisionDoNotSelect
	default:
		return DecisionOnHold
	}
}

// Label is the spelling stored in verification records ("DO NOT SELECT").
func (d Decision) Label() string {
	return strings.ReplaceAll(string(d), "_", " ")
}

// Condition is the overall state of a house.
type Condition string

const (
	ConditionPoor     Condition = "POOR"
	ConditionModerate Condition = "MODERATE"
	ConditionGood     Condition = "GOOD"
	ConditionUnknown  Condition = "UNKNOWN"
)

// ParseCondition normalizes a condition label; unknown values are UNKNOWN.
func ParseCondition(s string) Condition {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(s))); c {
	case ConditionPoor, ConditionModerate, ConditionGood:
		return c
	default:
		return ConditionUnknown
	}
}

// Point list sizes and filler.
const (
	SummaryPoints = 5
	HousePoints   = 5

	fillerPoint = "No further details provided."
)

// Verdict is the normalized decision stage output.
type Verdict struct {
	Summary  []string `json:"summary"`
	Decision Decision `json:"decision"`
	Score    float64  `json:"score"`
}

// NeutralVerdict is returned when the decision stage cannot run.
func NeutralVerdict() Verdict {
	return Verdict{Summary: []string{}, Decision: DecisionOnHold, Score: 0}
}

// HouseReport is the normalized visual analysis output.
type HouseReport struct {
	Points    []string  `json:"points"`
	Condition Condition `json:"condition"`
}

// NeutralHouseReport is returned when the visual stage cannot run.
func NeutralHouseReport() HouseReport {
	return HouseReport{Points: []string{}, Condition: ConditionUnknown}
}

// flexScore accepts a JSON number or a numeric string ("85", "85%").
type flexScore float64

func (f *flexScore) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexScore(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("score is neither number nor string: %s", b)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("score %q is not numeric", s)
	}
	*f = flexScore(n)
	return nil
}

// flexPoints accepts a list of strings or a single string.
type flexPoints []string

func (p *flexPoints) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*p = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("points are neither list nor string: %s", b)
	}
	*p = []string{s}
	return nil
}

type rawVerdict struct {
	Summary  flexPoints `json:"summary"`
	Decision string     `json:"decision"`
	Score    flexScore  `json:"score"`
}

// decodeVerdict validates a raw model response once and normalizes it:
// decision label, score clamped to [0,100], exactly SummaryPoints points.
func decodeVerdict(raw string) (Verdict, error) {
	rv, err := jsonutil.ParseJSON[rawVerdict](raw)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Summary:  normalizePoints(rv.Summary, SummaryPoints),
		Decision: ParseDecision(rv.Decision),
		Score:    clampScore(float64(rv.Score)),
	}, nil
}

type rawHouseReport struct {
	Points    flexPoints `json:"points"`
	Condition string     `json:"condition"`
}

// decodeHouseReport accepts the current {points, condition} object and the
// legacy shape where the model returned a bare list of points. The legacy
// shape carries no condition, so it decodes as UNKNOWN.
func decodeHouseReport(raw string) (HouseReport, error) {
	block, err := jsonutil.FirstBlock(jsonutil.StripMarkdownFences(raw))
	if err != nil {
		return HouseReport{}, err
	}

	if strings.HasPrefix(block, "[") {
		var legacy []string
		if err := json.Unmarshal([]byte(block), &legacy); err != nil {
			return HouseReport{}, fmt.Errorf("decode legacy house list: %w", err)
		}
		return HouseReport{
			Points:    normalizePoints(legacy, HousePoints),
			Condition: ConditionUnknown,
		}, nil
	}

	var rr rawHouseReport
	if err := json.Unmarshal([]byte(block), &rr); err != nil {
		return HouseReport{}, fmt.Errorf("decode house report: %w", err)
	}
	return HouseReport{
		Points:    normalizePoints(rr.Points, HousePoints),
		Condition: ParseCondition(rr.Condition),
	}, nil
}

// normalizePoints trims, drops blanks, and truncates or pads to n entries.
func normalizePoints(points []string, n int) []string {
	out := make([]string, 0, n)
	for _, p := range points {
		p = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "-*• "))
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			return out
		}
	}
	for len(out) < n {
		out = append(out, fillerPoint)
	}
	return out
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}

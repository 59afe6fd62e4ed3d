package chat

import (
	"math"
	"slices"
	"testing"
)

func TestParseDecision(t *testing.T) {
	tests := map[string]Decision{
		"SELECT":        DecisionSelect,
		" select ":      DecisionSelect,
		"DO NOT SELECT": DecisionDoNotSelect,
		"DO_NOT_SELECT": DecisionDoNotSelect,
		"do-not-select": DecisionDoNotSelect,
		"REJECT":        DecisionDoNotSelect,
		"ON HOLD":       DecisionOnHold,
		"ON_HOLD":       DecisionOnHold,
		"maybe":         DecisionOnHold,
		"":              DecisionOnHold,
	}
	for in, want := range tests {
		if got := ParseDecision(in); got != want {
			t.Errorf("ParseDecision(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDecisionLabel(t *testing.T) {
	labels := map[Decision]string{
		DecisionSelect:      "SELECT",
		DecisionDoNotSelect: "DO NOT SELECT",
		DecisionOnHold:      "ON HOLD",
	}
	for d, want := range labels {
		if got := d.Label(); got != want {
			t.Errorf("%s.Label() = %q, want %q", d, got, want)
		}
		if back := ParseDecision(d.Label()); back != d {
			t.Errorf("ParseDecision(%q) = %s, want %s", d.Label(), back, d)
		}
	}
}

func TestParseCondition(t *testing.T) {
	tests := map[string]Condition{
		"poor":       ConditionPoor,
		" MODERATE ": ConditionModerate,
		"GOOD":       ConditionGood,
		"excellent":  ConditionUnknown,
		"":           ConditionUnknown,
	}
	for in, want := range tests {
		if got := ParseCondition(in); got != want {
			t.Errorf("ParseCondition(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDecodeVerdict(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decision Decision
		score    float64
		first    string
	}{
		{
			name:     "plain json",
			raw:      `{"summary":["a","b","c","d","e"],"decision":"SELECT","score":85}`,
			decision: DecisionSelect,
			score:    85,
			first:    "a",
		},
		{
			name:     "commentary and fences",
			raw:      "Here is my analysis:\n```json\n{\"summary\":[\"a\"],\"decision\":\"DO NOT SELECT\",\"score\":\"72.5\"}\n```",
			decision: DecisionDoNotSelect,
			score:    72.5,
			first:    "a",
		},
		{
			name:     "score above range clamps",
			raw:      `{"summary":["a","b","c","d","e","f","g"],"decision":"ON HOLD","score":250}`,
			decision: DecisionOnHold,
			score:    100,
			first:    "a",
		},
		{
			name:     "negative score clamps",
			raw:      `{"summary":"only one point","decision":"SELECT","score":-3}`,
			decision: DecisionSelect,
			score:    0,
			first:    "only one point",
		},
		{
			name:     "bulleted points trimmed",
			raw:      `{"summary":["- Father earns daily wages"],"decision":"SELECT","score":"90%"}`,
			decision: DecisionSelect,
			score:    90,
			first:    "Father earns daily wages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := decodeVerdict(tt.raw)
			if err != nil {
				t.Fatalf("decodeVerdict: %v", err)
			}
			if len(v.Summary) != SummaryPoints {
				t.Fatalf("len(Summary) = %d, want %d", len(v.Summary), SummaryPoints)
			}
			if v.Decision != tt.decision {
				t.Errorf("Decision = %s, want %s", v.Decision, tt.decision)
			}
			if math.Abs(v.Score-tt.score) > 0.001 {
				t.Errorf("Score = %v, want %v", v.Score, tt.score)
			}
			if v.Summary[0] != tt.first {
				t.Errorf("Summary[0] = %q, want %q", v.Summary[0], tt.first)
			}
		})
	}
}

func TestDecodeVerdict_Failures(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		`{"summary": ["a"], "decision": "SELECT", "score": "high"}`,
		`{"summary": {"a": 1}}`,
	} {
		if _, err := decodeVerdict(raw); err == nil {
			t.Errorf("decodeVerdict(%q) succeeded, want error", raw)
		}
	}
}

func TestDecodeHouseReport(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		condition Condition
		first     string
	}{
		{
			name:      "normalized object",
			raw:       `{"points":["Mud walls","Thatched roof"],"condition":"POOR"}`,
			condition: ConditionPoor,
			first:     "Mud walls",
		},
		{
			name:      "legacy bare list",
			raw:       "```json\n[\"Tiled floor\", \"Two rooms\"]\n```",
			condition: ConditionUnknown,
			first:     "Tiled floor",
		},
		{
			name:      "unknown condition normalized",
			raw:       `Sure! {"points":["Large TV"],"condition":"LUXURIOUS"}`,
			condition: ConditionUnknown,
			first:     "Large TV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decodeHouseReport(tt.raw)
			if err != nil {
				t.Fatalf("decodeHouseReport: %v", err)
			}
			if len(r.Points) != HousePoints {
				t.Fatalf("len(Points) = %d, want %d", len(r.Points), HousePoints)
			}
			if r.Condition != tt.condition {
				t.Errorf("Condition = %s, want %s", r.Condition, tt.condition)
			}
			if r.Points[0] != tt.first {
				t.Errorf("Points[0] = %q, want %q", r.Points[0], tt.first)
			}
		})
	}

	if _, err := decodeHouseReport("no json here"); err == nil {
		t.Error("expected error for text without JSON")
	}
}

func TestNormalizePoints(t *testing.T) {
	got := normalizePoints([]string{" a ", "", "* b"}, 5)
	want := []string{"a", "b", fillerPoint, fillerPoint, fillerPoint}
	if !slices.Equal(got, want) {
		t.Errorf("padded = %q, want %q", got, want)
	}

	got = normalizePoints([]string{"1", "2", "3", "4", "5", "6"}, 5)
	want = []string{"1", "2", "3", "4", "5"}
	if !slices.Equal(got, want) {
		t.Errorf("truncated = %q, want %q", got, want)
	}
}

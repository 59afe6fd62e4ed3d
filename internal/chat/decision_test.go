package chat

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestDecisionSynthesizer_Synthesize(t *testing.T) {
	fake := &fakeCompleter{response: `{"summary":["Father is a daily wage worker","No fixed income"],"decision":"SELECT","score":88}`}
	d := NewDecisionSynthesizer(fake)

	v, err := d.Synthesize(context.Background(), "Text Comment:\nFamily has no income.", "No similar historical cases found.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if v.Decision != DecisionSelect {
		t.Errorf("Decision = %s, want SELECT", v.Decision)
	}
	if len(v.Summary) != SummaryPoints {
		t.Errorf("len(Summary) = %d, want %d", len(v.Summary), SummaryPoints)
	}
	if math.Abs(v.Score-88) > 0.001 {
		t.Errorf("Score = %v, want 88", v.Score)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(fake.calls))
	}
	call := fake.calls[0]
	if !call.JSON {
		t.Error("decision stage must request structured output")
	}
	if math.Abs(call.Temperature-0.1) > 0.0001 {
		t.Errorf("Temperature = %v, want 0.1", call.Temperature)
	}
	for _, want := range []string{"No similar historical cases found.", "CURRENT CASE:\nText Comment:\nFamily has no income."} {
		if !strings.Contains(call.User, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestDecisionSynthesizer_ParseFailure(t *testing.T) {
	d := NewDecisionSynthesizer(&fakeCompleter{response: "I think this student should be selected."})

	v, err := d.Synthesize(context.Background(), "narrative", "")
	if err != nil {
		t.Fatalf("parse failures are not errors: %v", err)
	}

	want := Verdict{Summary: []string{ParseFailureSummary}, Decision: DecisionOnHold, Score: 0}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("verdict = %+v, want %+v", v, want)
	}
}

func TestDecisionSynthesizer_BackendError(t *testing.T) {
	d := NewDecisionSynthesizer(&fakeCompleter{err: errors.New("connection refused")})

	v, err := d.Synthesize(context.Background(), "narrative", "")
	if err == nil {
		t.Fatal("expected backend error")
	}
	if !reflect.DeepEqual(v, NeutralVerdict()) {
		t.Errorf("verdict = %+v, want neutral", v)
	}
}

func TestDecisionSynthesizer_ScoreAlwaysInRange(t *testing.T) {
	for _, raw := range []string{
		`{"summary":[],"decision":"SELECT","score":1e9}`,
		`{"summary":[],"decision":"SELECT","score":-1e9}`,
		`{"summary":[],"decision":"SELECT"}`,
	} {
		v, err := NewDecisionSynthesizer(&fakeCompleter{response: raw}).Synthesize(context.Background(), "n", "")
		if err != nil {
			t.Fatalf("Synthesize(%s): %v", raw, err)
		}
		if v.Score < 0 || v.Score > 100 {
			t.Errorf("score %v out of range for %s", v.Score, raw)
		}
		if len(v.Summary) != SummaryPoints {
			t.Errorf("len(Summary) = %d for %s", len(v.Summary), raw)
		}
	}
}

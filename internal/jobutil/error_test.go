package jobutil

import (
	"context"
	"errors"
	"testing"
)

func TestSetJobError(t *testing.T) {
	var gotID, gotReason string
	err := SetJobError(context.Background(), "pv-1", "42", "transcription failed", func(_ context.Context, id, reason string) error {
		gotID, gotReason = id, reason
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "pv-1" || gotReason != "transcription failed" {
		t.Errorf("writer got (%q, %q)", gotID, gotReason)
	}

	want := errors.New("table missing")
	err = SetJobError(context.Background(), "pv-2", "42", "x", func(context.Context, string, string) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

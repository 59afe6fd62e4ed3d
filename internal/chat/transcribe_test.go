package chat

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestTranscriber_NoAudio(t *testing.T) {
	fake := &fakeMultimodal{}
	got, err := NewTranscriber(fake).Transcribe(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if len(fake.uploads) != 0 || len(fake.generateCalls) != 0 {
		t.Errorf("missing audio must not reach the backend: uploads=%v calls=%d", fake.uploads, len(fake.generateCalls))
	}
}

func TestTranscriber_Transcribe(t *testing.T) {
	fake := &fakeMultimodal{responses: []string{" The family lives in a rented hut. \n"}}
	got, err := NewTranscriber(fake).Transcribe(context.Background(), "audio/42.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "The family lives in a rented hut." {
		t.Errorf("got %q", got)
	}
	if !slices.Equal(fake.uploads, []string{"audio/42.wav"}) {
		t.Errorf("uploads = %v", fake.uploads)
	}
	if len(fake.generateCalls) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(fake.generateCalls))
	}
	if n := len(fake.generateCalls[0].Parts); n != 1 {
		t.Errorf("parts = %d, want 1", n)
	}
	if fake.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", fake.cleanups)
	}
}

func TestTranscriber_UploadError(t *testing.T) {
	fake := &fakeMultimodal{uploadErr: map[string]error{"a.wav": errors.New("denied")}}
	_, err := NewTranscriber(fake).Transcribe(context.Background(), "a.wav")

	if err == nil {
		t.Fatal("expected upload error")
	}
	if len(fake.generateCalls) != 0 {
		t.Error("generate must not run after a failed upload")
	}
}

package chat

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestTextBackend_PrimarySucceeds(t *testing.T) {
	primary := &fakeCompleter{response: "primary"}
	fallback := &fakeMultimodal{responses: []string{"fallback"}}

	got, err := NewTextBackend(primary, fallback).Complete(context.Background(), CompletionRequest{System: "sys", User: "user"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary" {
		t.Errorf("got %q, want primary", got)
	}
	if len(fallback.generateCalls) != 0 {
		t.Error("fallback must not run when the primary succeeds")
	}
}

func TestTextBackend_FallsBackOnUnavailable(t *testing.T) {
	unconfigured := NewGroqClient("", "", "", DefaultRetryPolicy)
	fallback := &fakeMultimodal{responses: []string{" from gemini "}}

	got, err := NewTextBackend(unconfigured, fallback).Complete(context.Background(), CompletionRequest{
		System:      "You are a translator.",
		User:        "Convert this text:\nvanakkam",
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "from gemini" {
		t.Errorf("got %q, want %q", got, "from gemini")
	}
	if len(fallback.generateCalls) != 1 {
		t.Fatalf("fallback calls = %d, want 1", len(fallback.generateCalls))
	}
	call := fallback.generateCalls[0]
	if want := "You are a translator.\n\nTask: Convert this text:\nvanakkam"; call.Prompt != want {
		t.Errorf("Prompt = %q, want %q", call.Prompt, want)
	}
	if !call.JSON {
		t.Error("JSON flag not forwarded")
	}
	if call.Temperature == nil || math.Abs(float64(*call.Temperature)-0.3) > 0.0001 {
		t.Errorf("Temperature = %v, want 0.3", call.Temperature)
	}
}

func TestTextBackend_FallsBackOnError(t *testing.T) {
	primary := &fakeCompleter{err: errors.New("502 bad gateway")}
	fallback := &fakeMultimodal{responses: []string{"ok"}}

	got, err := NewTextBackend(primary, fallback).Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
}

func TestTextBackend_NoBackends(t *testing.T) {
	_, err := NewTextBackend(nil, nil).Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}

	primaryErr := errors.New("boom")
	_, err = NewTextBackend(&fakeCompleter{err: primaryErr}, nil).Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, primaryErr) {
		t.Errorf("err = %v, want %v", err, primaryErr)
	}
}

func TestGroqClient_Unconfigured(t *testing.T) {
	g := NewGroqClient("", "", "", DefaultRetryPolicy)
	if g.Configured() {
		t.Error("client without a key reports configured")
	}

	if _, err := g.Complete(context.Background(), CompletionRequest{User: "x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewTextBackend_WarnsOnceWithoutPrimary(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	backend := NewTextBackend(nil, &fakeMultimodal{responses: []string{"a", "b"}})
	for i := 0; i < 2; i++ {
		if _, err := backend.Complete(context.Background(), CompletionRequest{User: "hello"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	out := buf.String()
	if n := strings.Count(out, `"level":"warn"`); n != 1 {
		t.Errorf("warnings = %d, want 1\n%s", n, out)
	}
	if !strings.Contains(out, "fall back to Gemini") {
		t.Errorf("warning does not name the fallback: %s", out)
	}

	buf.Reset()
	NewTextBackend(&fakeCompleter{response: "ok"}, nil)
	if buf.Len() != 0 {
		t.Errorf("configured primary should not warn: %s", buf.String())
	}
}

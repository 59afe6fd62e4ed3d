package chat

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"
)

// fakeMultimodal records calls and returns scripted responses.
type fakeMultimodal struct {
	mu        sync.Mutex
	responses []string
	err       error
	uploadErr map[string]error

	generateCalls []GenerateRequest
	uploads       []string
	cleanups      int
}

func (f *fakeMultimodal) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls = append(f.generateCalls, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeMultimodal) Upload(_ context.Context, path, mimeType string) (*genai.Part, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[path]; err != nil {
		return nil, func() {}, err
	}
	f.uploads = append(f.uploads, path)
	return genai.NewPartFromURI("files/"+path, mimeType), func() {
		f.mu.Lock()
		f.cleanups++
		f.mu.Unlock()
	}, nil
}

// fakeCompleter is a scripted TextCompleter.
type fakeCompleter struct {
	response string
	err      error
	calls    []CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

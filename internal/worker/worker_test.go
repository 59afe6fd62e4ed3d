package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/metrics"
	"github.com/fpang/scholarship-verification/internal/pipeline"
	"github.com/fpang/scholarship-verification/internal/rag"
	"github.com/fpang/scholarship-verification/internal/records"
	"github.com/fpang/scholarship-verification/internal/store"
)

func TestMain(m *testing.M) {
	restore := metrics.SetOutput(io.Discard)
	defer restore()
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text string, _ bool) (string, error) {
	return text, nil
}

type pathTranscriber struct {
	mu   sync.Mutex
	seen []string
}

func (p *pathTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	p.seen = append(p.seen, path)
	return "The father is a daily wage labourer.", nil
}

type fixedSynthesizer struct{}

func (fixedSynthesizer) Synthesize(_ context.Context, narrative, _ string) (chat.Verdict, error) {
	return chat.Verdict{
		Summary:  []string{"a", "b", "c", "d", "e"},
		Decision: chat.DecisionSelect,
		Score:    82,
	}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text) % 7), 0.5}, nil
}

type fakeRecords struct {
	mu         sync.Mutex
	processing []string
	saved      []records.Result
	saveErr    error
	district   string
	latest     *records.CaseRecord
	decisions  map[string]string
}

func (f *fakeRecords) MarkProcessing(_ context.Context, studentID, volunteerID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, studentID+"/"+volunteerID)
	return nil
}

func (f *fakeRecords) SaveResult(_ context.Context, res records.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, res)
	return nil
}

func (f *fakeRecords) StudentDistrict(context.Context, string) (string, error) {
	return f.district, nil
}

func (f *fakeRecords) ImageKeys(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeRecords) LatestCase(_ context.Context, studentID string) (*records.CaseRecord, error) {
	if f.latest == nil || f.latest.StudentID != studentID {
		return nil, records.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeRecords) SetAdminDecision(_ context.Context, studentID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil || f.latest.StudentID != studentID {
		return records.ErrNotFound
	}
	if f.decisions == nil {
		f.decisions = map[string]string{}
	}
	f.decisions[studentID] = status
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	origins []string
}

func (p *fakePublisher) Publish(_ context.Context, _ rag.HistoricalCase, origin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origins = append(p.origins, origin)
	return nil
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

// holdDispatcher accepts events without running them.
type holdDispatcher struct {
	events []WorkerEvent
	err    error
}

func (h *holdDispatcher) Dispatch(_ context.Context, ev WorkerEvent) error {
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, ev)
	return nil
}

type fixture struct {
	svc         *Service
	jobs        *store.MemoryStore
	records     *fakeRecords
	index       *rag.Index
	events      *fakePublisher
	transcriber *pathTranscriber
	tempDir     string
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		jobs:        store.NewMemoryStore(),
		records:     &fakeRecords{district: "Madurai"},
		events:      &fakePublisher{},
		transcriber: &pathTranscriber{},
		tempDir:     t.TempDir(),
	}
	f.index = rag.NewIndex(rag.NewMemoryStore(), constEmbedder{}, rag.IndexOptions{Enabled: true, Backend: "memory"})
	orch := pipeline.New(pipeline.Stages{
		Translator:  echoTranslator{},
		Transcriber: f.transcriber,
		Retriever:   f.index,
		Synthesizer: fixedSynthesizer{},
	}, pipeline.Options{TopK: 3})

	deps := Deps{
		Jobs:         f.jobs,
		Orchestrator: orch,
		Index:        f.index,
		Records:      f.records,
		Events:       f.events,
		TempDir:      f.tempDir,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc = NewService(deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, f.svc.Shutdown(ctx))
	})
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
}

func voiceDataURL() string {
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("RIFF....WAVE"))
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		StudentID:      "S42",
		VolunteerID:    "V7",
		PropertyType:   "Rented",
		WhatYouSaw:     "Single room",
		Comment:        "Family lives in one rented room.",
		Recommendation: "SELECT",
		VoiceAudio:     voiceDataURL(),
	}
}

// --- tests ---

func TestSubmit_RunsToDone(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ID, "pv-"))
	assert.Equal(t, store.StatusPending, job.Status)

	f.drain(t)

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, got.Status)
	require.NotNil(t, got.Output)
	assert.Equal(t, chat.DecisionSelect, got.Output.Decision)
	assert.Equal(t, "The father is a daily wage labourer.", got.Output.VoiceText)

	require.Len(t, f.records.saved, 1)
	assert.Equal(t, "SELECT", f.records.saved[0].Recommendation)
	assert.Equal(t, []string{"S42/V7"}, f.records.processing)

	stats := f.index.Stats(context.Background())
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, []string{OriginPipeline}, f.events.origins)

	require.Len(t, f.transcriber.seen, 1)
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "voice temp file is removed after the run")
}

func TestSubmit_SecondSubmissionRejectedWhileOpen(t *testing.T) {
	hold := &holdDispatcher{}
	f := newFixture(t, func(d *Deps) { d.Dispatcher = hold })

	_, err := f.svc.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), submitRequest())
	assert.ErrorIs(t, err, store.ErrInProgress)

	other := submitRequest()
	other.VolunteerID = "V8"
	_, err = f.svc.Submit(context.Background(), other)
	assert.NoError(t, err, "a different volunteer holds a different lock")

	for _, ev := range hold.events {
		if ev.AudioPath != "" {
			os.Remove(ev.AudioPath)
		}
	}
}

func TestSubmit_InvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Submit(context.Background(), SubmitRequest{StudentID: " "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmit_DispatchFailureFailsJobAndReleasesLock(t *testing.T) {
	hold := &holdDispatcher{err: errors.New("lambda throttled")}
	f := newFixture(t, func(d *Deps) { d.Dispatcher = hold })

	_, err := f.svc.Submit(context.Background(), submitRequest())
	require.ErrorContains(t, err, "lambda throttled")

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	hold.err = nil
	_, err = f.svc.Submit(context.Background(), submitRequest())
	assert.NoError(t, err, "failed job must not keep the lock")
}

func TestSubmit_SaveFailureFailsJob(t *testing.T) {
	f := newFixture(t, nil)
	f.records.saveErr = errors.New("deadlock found")

	job, err := f.svc.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	f.drain(t)

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "deadlock found")
	assert.Zero(t, f.index.Stats(context.Background()).Documents)
}

// flakyJobs fails selected transitions of an otherwise working store.
type flakyJobs struct {
	*store.MemoryStore
	runningErr  error
	completeErr error
}

func (f *flakyJobs) MarkRunning(ctx context.Context, id string) error {
	if f.runningErr != nil {
		return f.runningErr
	}
	return f.MemoryStore.MarkRunning(ctx, id)
}

func (f *flakyJobs) Complete(ctx context.Context, id string, out *pipeline.Output) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	return f.MemoryStore.Complete(ctx, id, out)
}

func TestProcess_JobStoreErrorsFailJobAndReleaseLock(t *testing.T) {
	tests := []struct {
		name  string
		jobs  *flakyJobs
		error string
	}{
		{
			name:  "complete fails",
			jobs:  &flakyJobs{MemoryStore: store.NewMemoryStore(), completeErr: errors.New("throughput exceeded")},
			error: "complete job",
		},
		{
			name:  "mark running fails",
			jobs:  &flakyJobs{MemoryStore: store.NewMemoryStore(), runningErr: errors.New("connection reset")},
			error: "mark running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Jobs = tt.jobs })

			job, err := f.svc.Submit(context.Background(), submitRequest())
			require.NoError(t, err)
			f.drain(t)

			got, err := tt.jobs.Get(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, store.StatusFailed, got.Status)
			assert.Contains(t, got.Error, tt.error)

			entries, err := os.ReadDir(f.tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "voice temp file is removed")

			// The dispatcher is drained, so take the slot directly.
			err = tt.jobs.Begin(context.Background(), &store.Job{
				ID:          "pv-retry",
				StudentID:   job.StudentID,
				VolunteerID: job.VolunteerID,
			})
			assert.NoError(t, err, "failed job must not keep the lock")
		})
	}
}

func TestSubmit_VoiceUploadedToS3(t *testing.T) {
	s3fake := &fakeS3{objects: map[string][]byte{}}
	hold := &holdDispatcher{}
	f := newFixture(t, func(d *Deps) {
		d.S3 = s3fake
		d.Bucket = "evidence"
		d.Dispatcher = hold
	})

	_, err := f.svc.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	require.Len(t, hold.events, 1)
	ev := hold.events[0]
	assert.Equal(t, "audio/S42.wav", ev.AudioKey)
	assert.Empty(t, ev.AudioPath)
	assert.Equal(t, []byte("RIFF....WAVE"), s3fake.objects["audio/S42.wav"])

	// The worker side downloads the recording again.
	require.NoError(t, f.svc.Process(context.Background(), ev))
	require.Len(t, f.transcriber.seen, 1)
	_, err = os.Stat(f.transcriber.seen[0])
	assert.True(t, os.IsNotExist(err), "downloaded recording is cleaned up")
}

func TestSubmit_BadVoiceDegradesOnlyTranscription(t *testing.T) {
	f := newFixture(t, nil)
	req := submitRequest()
	req.VoiceAudio = "data:audio/wav;base64,@@@"

	job, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	f.drain(t)

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, got.Status)
	assert.Empty(t, got.Output.VoiceText)
	assert.Empty(t, f.transcriber.seen)
}

func TestRecordAdminDecision_IndexesFinalCase(t *testing.T) {
	f := newFixture(t, nil)
	f.records.latest = &records.CaseRecord{
		StudentID:     "S42",
		District:      "Madurai",
		Comment:       "Family lives in one rented room.",
		AIDecision:    "SELECT",
		Score:         82,
		HouseAnalysis: `["Tin roof"]`,
		VerifiedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	err := f.svc.RecordAdminDecision(context.Background(), AdminDecision{StudentID: "S42", Status: "APPROVED", Remarks: "verified twice"})
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, "APPROVED", f.records.decisions["S42"])
	assert.Equal(t, []string{OriginAdmin}, f.events.origins)

	matches, _, err := f.index.Search(context.Background(), "anything", rag.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	md := matches[0].Case.Metadata
	assert.Equal(t, "APPROVED", md.AdminDecision)
	assert.Equal(t, "SELECT", md.AIDecision)
	assert.True(t, md.HasAdminRemarks)
	assert.Contains(t, matches[0].Case.NarrativeText, "Admin Decision: APPROVED")
	assert.Contains(t, matches[0].Case.NarrativeText, "Admin Remarks: verified twice")
}

func TestRecordAdminDecision_Errors(t *testing.T) {
	f := newFixture(t, nil)

	err := f.svc.RecordAdminDecision(context.Background(), AdminDecision{StudentID: "S1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = f.svc.RecordAdminDecision(context.Background(), AdminDecision{StudentID: "S404", Status: "REJECTED"})
	assert.ErrorIs(t, err, records.ErrNotFound)

	noDB := newFixture(t, func(d *Deps) { d.Records = nil })
	err = noDB.svc.RecordAdminDecision(context.Background(), AdminDecision{StudentID: "S1", Status: "APPROVED"})
	assert.ErrorIs(t, err, ErrRecordsUnavailable)
}

func TestProcess_UnknownType(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorContains(t, f.svc.Process(context.Background(), WorkerEvent{Type: "triage"}), "unknown event type")
	assert.ErrorIs(t, f.svc.Process(context.Background(), WorkerEvent{Type: EventAdminDecision}), ErrInvalidRequest)
}

func TestLocalDispatcher_RejectsAfterShutdown(t *testing.T) {
	var ran sync.WaitGroup
	ran.Add(1)
	d := NewLocalDispatcher(func(context.Context, WorkerEvent) error {
		ran.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, WorkerEvent{Type: EventRun}))
	cancel()
	ran.Wait()

	require.NoError(t, d.Shutdown(context.Background()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), WorkerEvent{Type: EventRun}), ErrShuttingDown)
}

func TestLocalDispatcher_RunOutlivesRequestContext(t *testing.T) {
	seen := make(chan error, 1)
	d := NewLocalDispatcher(func(ctx context.Context, _ WorkerEvent) error {
		time.Sleep(10 * time.Millisecond)
		seen <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, WorkerEvent{Type: EventRun}))
	cancel()

	require.NoError(t, d.Shutdown(context.Background()))
	assert.NoError(t, <-seen)
}

type fakeInvoker struct {
	in *lambdasvc.InvokeInput
}

func (f *fakeInvoker) Invoke(_ context.Context, in *lambdasvc.InvokeInput, _ ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error) {
	f.in = in
	return &lambdasvc.InvokeOutput{StatusCode: 202}, nil
}

func TestLambdaDispatcher(t *testing.T) {
	inv := &fakeInvoker{}
	d := NewLambdaDispatcher(inv, "arn:aws:lambda:ap-south-1:123:function:pv-worker")

	ev := WorkerEvent{Type: EventRun, JobID: "pv-1", StudentID: "S42", AudioKey: "audio/S42.wav"}
	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NotNil(t, inv.in)
	assert.Equal(t, lambdatypes.InvocationTypeEvent, inv.in.InvocationType)

	var decoded WorkerEvent
	require.NoError(t, json.Unmarshal(inv.in.Payload, &decoded))
	assert.Equal(t, ev, decoded)

	err := d.Dispatch(context.Background(), WorkerEvent{Type: EventRun, AudioPath: "/tmp/x.wav"})
	assert.ErrorContains(t, err, "local file paths")

	assert.Error(t, NewLambdaDispatcher(nil, "").Dispatch(context.Background(), ev))
}

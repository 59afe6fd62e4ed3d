package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/metrics"
	"github.com/fpang/scholarship-verification/internal/rag"
)

func quietMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(metrics.SetOutput(io.Discard))
}

type fakeTranslator struct{ err error }

func (f fakeTranslator) Translate(_ context.Context, text string, _ bool) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.TrimSpace(text) == "" {
		return chat.NoText, nil
	}
	return text, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// needSynthesizer selects when the narrative mentions hardship.
type needSynthesizer struct {
	mu        sync.Mutex
	narrative []string
	contexts  []string
	err       error
	panicMsg  string
}

func (f *needSynthesizer) Synthesize(_ context.Context, narrative, historical string) (chat.Verdict, error) {
	f.mu.Lock()
	f.narrative = append(f.narrative, narrative)
	f.contexts = append(f.contexts, historical)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return chat.NeutralVerdict(), f.err
	}
	decision := chat.DecisionOnHold
	if strings.Contains(strings.ToLower(narrative), "daily wage") || strings.Contains(narrative, "no income") {
		decision = chat.DecisionSelect
	}
	return chat.Verdict{
		Summary:  []string{"a", "b", "c", "d", "e"},
		Decision: decision,
		Score:    80,
	}, nil
}

type fakeVisual struct {
	report chat.HouseReport
	err    error
	delay  time.Duration
}

func (f fakeVisual) Analyze(_ context.Context, paths []string) (chat.HouseReport, error) {
	time.Sleep(f.delay)
	if f.err != nil {
		return chat.NeutralHouseReport(), f.err
	}
	if len(paths) == 0 {
		return chat.HouseReport{Points: []string{chat.NoImagesPoint}, Condition: chat.ConditionUnknown}, nil
	}
	return f.report, nil
}

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct{ err error }

func (w wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if w.err != nil {
		return nil, w.err
	}
	v := make([]float32, 32)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		v[h.Sum32()%32]++
	}
	return v, nil
}

type failingRetriever struct{}

func (failingRetriever) Search(context.Context, string, rag.Filter, int) ([]rag.Match, []float32, error) {
	return nil, nil, errors.New("index unreachable")
}

const needComment = "Family has no income, father is a daily wage worker."

func TestRun_ScenarioA(t *testing.T) {
	quietMetrics(t)
	synth := &needSynthesizer{}
	transcriber := &fakeTranscriber{}
	index := rag.NewIndex(rag.NewMemoryStore(), wordEmbedder{}, rag.IndexOptions{Enabled: true})

	o := New(Stages{
		Translator:  fakeTranslator{},
		Transcriber: transcriber,
		Retriever:   index,
		Synthesizer: synth,
		Visual:      fakeVisual{},
	}, Options{TopK: 5})

	run := o.Run(context.Background(), Input{TextComment: needComment})

	assert.Contains(t, run.MergedText, "Text Comment:\n"+needComment)
	assert.Equal(t, rag.NoContext, run.RetrievedContext)
	assert.Nil(t, run.QueryEmbedding)
	assert.Zero(t, transcriber.calls, "no audio means no transcription call")
	require.Len(t, synth.narrative, 1)
	assert.Equal(t, run.MergedText, synth.narrative[0])
	assert.Contains(t, []chat.Decision{chat.DecisionSelect, chat.DecisionOnHold}, run.Decision)
	assert.Empty(t, run.Degraded())

	out := run.Output()
	assert.Equal(t, needComment, out.EnglishComment)
	assert.Equal(t, "", out.VoiceText)
	assert.Equal(t, []string{chat.NoImagesPoint}, out.HouseAnalysis.Points)
}

func TestRun_ScenarioB(t *testing.T) {
	quietMetrics(t)
	synth := &needSynthesizer{}
	index := rag.NewIndex(rag.NewMemoryStore(), wordEmbedder{}, rag.IndexOptions{Enabled: true})
	o := New(Stages{
		Translator:  fakeTranslator{},
		Retriever:   index,
		Synthesizer: synth,
		Visual:      fakeVisual{},
	}, Options{})
	ctx := context.Background()

	first := o.Run(ctx, Input{TextComment: needComment})
	assert.Equal(t, rag.NoContext, first.RetrievedContext)
	require.NoError(t, index.Add(ctx, first.Case("101", "Salem", time.Now())))

	second := o.Run(ctx, Input{TextComment: needComment})
	assert.NotEqual(t, rag.NoContext, second.RetrievedContext)
	assert.Contains(t, second.RetrievedContext, "Case 1:")
	assert.Contains(t, second.RetrievedContext, "- District: Salem")
	assert.NotNil(t, second.QueryEmbedding, "query embedding is kept on the run")

	recorded := second.Case("101", "Salem", time.Now())
	assert.Nil(t, recorded.Embedding, "the index embeds the case document itself")
	assert.Contains(t, recorded.NarrativeText, "District: Salem\nAI Decision: SELECT\n")
	assert.Contains(t, recorded.NarrativeText, "Comments: "+needComment)
	assert.Contains(t, recorded.NarrativeText, "Summary: "+strings.Join(second.Summary, "; "))
	assert.Equal(t, "SELECT", recorded.Metadata.FinalDecision)
	require.Len(t, synth.contexts, 2)
	assert.Equal(t, second.RetrievedContext, synth.contexts[1])
}

func TestRun_TotalOutage(t *testing.T) {
	quietMetrics(t)
	boom := errors.New("backend down")
	o := New(Stages{
		Translator:  fakeTranslator{err: boom},
		Transcriber: &fakeTranscriber{err: boom},
		Retriever:   failingRetriever{},
		Synthesizer: &needSynthesizer{err: boom},
		Visual:      fakeVisual{err: boom},
	}, Options{})

	done := make(chan *Run, 1)
	go func() {
		done <- o.Run(context.Background(), Input{
			TextComment: needComment,
			AudioPath:   "/tmp/voice.wav",
			ImagePaths:  []string{"/tmp/a.jpg"},
		})
	}()

	var run *Run
	select {
	case run = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}

	out := run.Output()
	assert.Equal(t, chat.DecisionOnHold, out.Decision)
	assert.Zero(t, out.Score)
	assert.Equal(t, []string{}, out.Summary)
	assert.Equal(t, chat.ConditionUnknown, out.HouseAnalysis.Condition)
	assert.Equal(t, []string{}, out.HouseAnalysis.Points)
	assert.Equal(t, "", out.EnglishComment)
	assert.Equal(t, rag.NoContext, run.RetrievedContext)
	assert.ElementsMatch(t,
		[]string{StageTranslate, StageTranscribe, StageRetrieve, StageDecide, StageVisual},
		out.DegradedStages)
}

func TestRun_RecoversPanics(t *testing.T) {
	quietMetrics(t)
	o := New(Stages{
		Translator:  fakeTranslator{},
		Synthesizer: &needSynthesizer{panicMsg: "nil map"},
		Visual:      fakeVisual{report: chat.HouseReport{Points: []string{"1", "2", "3", "4", "5"}, Condition: chat.ConditionPoor}},
	}, Options{})

	var run *Run
	require.NotPanics(t, func() {
		run = o.Run(context.Background(), Input{TextComment: needComment, ImagePaths: []string{"a.jpg"}})
	})
	assert.Equal(t, chat.DecisionOnHold, run.Decision)
	assert.Equal(t, []string{StageDecide}, run.Degraded())
	assert.Equal(t, chat.ConditionPoor, run.HouseCondition, "later stages still run")
}

func TestRun_NilStagesDegrade(t *testing.T) {
	quietMetrics(t)
	run := New(Stages{}, Options{}).Run(context.Background(), Input{TextComment: "x"})
	out := run.Output()
	assert.Equal(t, chat.DecisionOnHold, out.Decision)
	assert.ElementsMatch(t, []string{StageTranslate, StageDecide, StageVisual}, out.DegradedStages)
}

func TestRun_ConcurrentVisual(t *testing.T) {
	quietMetrics(t)
	report := chat.HouseReport{Points: []string{"1", "2", "3", "4", "5"}, Condition: chat.ConditionModerate}
	o := New(Stages{
		Translator:  fakeTranslator{},
		Synthesizer: &needSynthesizer{},
		Visual:      fakeVisual{report: report, delay: 20 * time.Millisecond},
	}, Options{ConcurrentVisual: true})

	run := o.Run(context.Background(), Input{TextComment: needComment, ImagePaths: []string{"a.jpg"}})
	assert.Equal(t, chat.DecisionSelect, run.Decision)
	assert.Equal(t, report.Points, run.HousePoints)
	assert.Equal(t, chat.ConditionModerate, run.HouseCondition)
	assert.Len(t, run.Stages(), 6)
}

func TestRun_DistrictFilter(t *testing.T) {
	quietMetrics(t)
	ctx := context.Background()
	store := rag.NewMemoryStore()
	index := rag.NewIndex(store, wordEmbedder{}, rag.IndexOptions{Enabled: true})
	seed := &Run{TranslatedText: needComment, Decision: chat.DecisionSelect}
	require.NoError(t, index.Add(ctx, seed.Case("7", "Madurai", time.Now())))

	o := New(Stages{Translator: fakeTranslator{}, Retriever: index, Synthesizer: &needSynthesizer{}}, Options{FilterByDistrict: true})
	run := o.Run(ctx, Input{TextComment: needComment, District: "Salem"})
	assert.Equal(t, rag.NoContext, run.RetrievedContext)

	run = o.Run(ctx, Input{TextComment: needComment, District: "Madurai"})
	assert.Contains(t, run.RetrievedContext, "Case 1:")
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/metrics"
	"github.com/fpang/scholarship-verification/internal/rag"
)

// Stage names, in execution order.
const (
	StageTranslate  = "translate"
	StageTranscribe = "transcribe"
	StageMerge      = "merge"
	StageRetrieve   = "retrieve"
	StageDecide     = "decide"
	StageVisual     = "visual"
)

// errNotConfigured is recorded for a stage whose component is nil.
var errNotConfigured = errors.New("stage not configured")

// Translator converts the volunteer comment to English.
type Translator interface {
	Translate(ctx context.Context, text string, isTanglish bool) (string, error)
}

// Transcriber turns a voice recording into English text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Retriever finds similar historical cases.
type Retriever interface {
	Search(ctx context.Context, query string, filter rag.Filter, k int) ([]rag.Match, []float32, error)
}

// Synthesizer produces the decision verdict.
type Synthesizer interface {
	Synthesize(ctx context.Context, narrative, historicalContext string) (chat.Verdict, error)
}

// Visual analyzes house photos.
type Visual interface {
	Analyze(ctx context.Context, imagePaths []string) (chat.HouseReport, error)
}

// Stages holds the components. Any of them may be nil; a nil stage is
// recorded as degraded and keeps its neutral output.
type Stages struct {
	Translator  Translator
	Transcriber Transcriber
	Retriever   Retriever
	Synthesizer Synthesizer
	Visual      Visual
}

// Options tunes a run.
type Options struct {
	TopK int
	// FilterByDistrict restricts retrieval to cases from the input district.
	FilterByDistrict bool
	// ConcurrentVisual runs the visual stage alongside the text branch.
	ConcurrentVisual bool
}

// Orchestrator runs the stages for one submission.
type Orchestrator struct {
	stages Stages
	opts   Options
}

// New creates an Orchestrator.
func New(stages Stages, opts Options) *Orchestrator {
	return &Orchestrator{stages: stages, opts: opts}
}

// Run executes every stage and returns the completed run. It never fails.
func (o *Orchestrator) Run(ctx context.Context, in Input) *Run {
	run := newRun(in)
	start := time.Now()

	if o.opts.ConcurrentVisual {
		var g errgroup.Group
		g.Go(func() error {
			o.visual(ctx, run)
			return nil
		})
		o.textBranch(ctx, run)
		_ = g.Wait()
	} else {
		o.textBranch(ctx, run)
		o.visual(ctx, run)
	}

	o.emitMetrics(run, start)
	log.Info().
		Str("decision", string(run.Decision)).
		Float64("score", run.Score).
		Str("condition", string(run.HouseCondition)).
		Strs("degraded", run.Degraded()).
		Dur("duration", time.Since(start)).
		Msg("Pipeline run complete")
	return run
}

func (o *Orchestrator) textBranch(ctx context.Context, run *Run) {
	o.stage(ctx, run, StageTranslate, func(ctx context.Context) error {
		if o.stages.Translator == nil {
			return errNotConfigured
		}
		text, err := o.stages.Translator.Translate(ctx, run.Input.TextComment, run.Input.IsTanglish)
		if err != nil {
			return err
		}
		run.TranslatedText = text
		return nil
	})

	o.stage(ctx, run, StageTranscribe, func(ctx context.Context) error {
		if run.Input.AudioPath == "" {
			return nil
		}
		if o.stages.Transcriber == nil {
			return errNotConfigured
		}
		text, err := o.stages.Transcriber.Transcribe(ctx, run.Input.AudioPath)
		if err != nil {
			return err
		}
		run.TranscribedText = text
		return nil
	})

	o.stage(ctx, run, StageMerge, func(context.Context) error {
		run.MergedText = chat.MergeEvidence(run.TranslatedText, run.TranscribedText)
		return nil
	})

	o.stage(ctx, run, StageRetrieve, func(ctx context.Context) error {
		if o.stages.Retriever == nil {
			return nil
		}
		var filter rag.Filter
		if o.opts.FilterByDistrict {
			filter.District = run.Input.District
		}
		matches, embedding, err := o.stages.Retriever.Search(ctx, run.MergedText, filter, o.opts.TopK)
		if err != nil {
			return err
		}
		run.RetrievedContext = rag.FormatContext(matches)
		run.QueryEmbedding = embedding
		return nil
	})

	o.stage(ctx, run, StageDecide, func(ctx context.Context) error {
		if o.stages.Synthesizer == nil {
			return errNotConfigured
		}
		v, err := o.stages.Synthesizer.Synthesize(ctx, run.MergedText, run.RetrievedContext)
		if err != nil {
			return err
		}
		run.Summary, run.Decision, run.Score = v.Summary, v.Decision, v.Score
		return nil
	})
}

func (o *Orchestrator) visual(ctx context.Context, run *Run) {
	o.stage(ctx, run, StageVisual, func(ctx context.Context) error {
		if o.stages.Visual == nil {
			return errNotConfigured
		}
		report, err := o.stages.Visual.Analyze(ctx, run.Input.ImagePaths)
		if err != nil {
			return err
		}
		run.HousePoints, run.HouseCondition = report.Points, report.Condition
		return nil
	})
}

// stage runs fn, converting a panic into an error. Failures are logged and
// recorded; fn only assigns run fields on success so neutral values survive.
func (o *Orchestrator) stage(ctx context.Context, run *Run, name string, fn func(context.Context) error) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Str("stage", name).
					Interface("panic", p).
					Str("stack", string(debug.Stack())).
					Msg("Stage panicked")
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		log.Warn().Err(err).Str("stage", name).Msg("Stage degraded to neutral output")
	} else {
		log.Debug().Str("stage", name).Dur("duration", time.Since(start)).Msg("Stage complete")
	}
	run.record(name, time.Since(start), err)
}

func (o *Orchestrator) emitMetrics(run *Run, start time.Time) {
	m := metrics.New().
		Duration("RunLatencyMs", start).
		Metric("DegradedStages", float64(len(run.Degraded())), metrics.UnitCount).
		Property("decision", string(run.Decision))
	for _, s := range run.Stages() {
		m.Metric("StageLatencyMs_"+s.Name, float64(s.Duration.Milliseconds()), metrics.UnitMilliseconds)
	}
	m.Flush()
}

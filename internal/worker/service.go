// Package worker runs physical-verification submissions in the background:
// it takes the per-key lock, prepares evidence, dispatches the pipeline run,
// persists the outcome and grows the case index.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/jobs"
	"github.com/fpang/scholarship-verification/internal/jobutil"
	"github.com/fpang/scholarship-verification/internal/media"
	"github.com/fpang/scholarship-verification/internal/metrics"
	"github.com/fpang/scholarship-verification/internal/pipeline"
	"github.com/fpang/scholarship-verification/internal/rag"
	"github.com/fpang/scholarship-verification/internal/records"
	"github.com/fpang/scholarship-verification/internal/s3util"
	"github.com/fpang/scholarship-verification/internal/store"
)

// Case origins reported in case events.
const (
	OriginPipeline = "pipeline"
	OriginAdmin    = "admin"
)

// ErrInvalidRequest marks submissions missing required fields.
var ErrInvalidRequest = errors.New("invalid request")

// ErrRecordsUnavailable is returned for operations that need the records
// database when none is configured.
var ErrRecordsUnavailable = errors.New("records database not configured")

// Orchestrator runs the analysis pipeline.
type Orchestrator interface {
	Run(ctx context.Context, in pipeline.Input) *pipeline.Run
}

// Index is the case index as seen by the worker.
type Index interface {
	Enabled() bool
	Add(ctx context.Context, hc rag.HistoricalCase) error
}

// Publisher announces recorded cases.
type Publisher interface {
	Publish(ctx context.Context, hc rag.HistoricalCase, origin string) error
}

// Records is the verification records database.
type Records interface {
	MarkProcessing(ctx context.Context, studentID, volunteerID, propertyType, whatYouSaw string) error
	SaveResult(ctx context.Context, res records.Result) error
	StudentDistrict(ctx context.Context, studentID string) (string, error)
	ImageKeys(ctx context.Context, studentID string) ([]string, error)
	LatestCase(ctx context.Context, studentID string) (*records.CaseRecord, error)
	SetAdminDecision(ctx context.Context, studentID, status, remarks string) error
}

var _ Records = (*records.Repository)(nil)

// Deps are the collaborators of a Service. Records, Index, Events and S3
// are optional.
type Deps struct {
	Jobs         store.JobStore
	Orchestrator Orchestrator
	Index        Index
	Records      Records
	Events       Publisher
	S3           s3util.ObjectAPI
	Bucket       string
	// Dispatcher defaults to a LocalDispatcher bound to the service.
	Dispatcher Dispatcher
	// TempDir receives decoded voice recordings when S3 is not configured.
	TempDir string
}

// Service is the job service.
type Service struct {
	deps Deps
	now  func() time.Time
}

// NewService creates a service.
func NewService(deps Deps) *Service {
	s := &Service{deps: deps, now: time.Now}
	if s.deps.Dispatcher == nil {
		s.deps.Dispatcher = NewLocalDispatcher(s.Process)
	}
	if s.deps.TempDir == "" {
		s.deps.TempDir = os.TempDir()
	}
	return s
}

// Jobs exposes the job store for polling.
func (s *Service) Jobs() store.JobStore { return s.deps.Jobs }

// Shutdown drains in-flight background work when the dispatcher is local.
func (s *Service) Shutdown(ctx context.Context) error {
	if d, ok := s.deps.Dispatcher.(*LocalDispatcher); ok {
		return d.Shutdown(ctx)
	}
	return nil
}

// Submit locks (student, volunteer), prepares the voice recording and
// dispatches the run. It returns the PENDING job immediately, or
// store.ErrInProgress when a run for the pair is still open.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.VolunteerID = strings.TrimSpace(req.VolunteerID)
	if req.StudentID == "" || req.VolunteerID == "" {
		return nil, fmt.Errorf("%w: studentId and volunteerId are required", ErrInvalidRequest)
	}

	now := s.now()
	job := &store.Job{
		ID:          jobs.GenerateID(),
		StudentID:   req.StudentID,
		VolunteerID: req.VolunteerID,
		Status:      store.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Jobs.Begin(ctx, job); err != nil {
		return nil, err
	}
	logger := log.With().Str("jobId", job.ID).Str("studentId", job.StudentID).Logger()

	fail := func(msg string, err error) (*store.Job, error) {
		_ = jobutil.SetJobError(ctx, job.ID, job.StudentID, msg, s.deps.Jobs.Fail)
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	if s.deps.Records != nil {
		if err := s.deps.Records.MarkProcessing(ctx, req.StudentID, req.VolunteerID, req.PropertyType, req.WhatYouSaw); err != nil {
			return fail("mark verification processing", err)
		}
	}

	ev := WorkerEvent{
		Type:           EventRun,
		JobID:          job.ID,
		StudentID:      req.StudentID,
		VolunteerID:    req.VolunteerID,
		Comment:        req.Comment,
		IsTanglish:     req.IsTanglish,
		Recommendation: req.Recommendation,
		District:       req.District,
		ImagePaths:     req.ImagePaths,
	}
	if strings.TrimSpace(req.VoiceAudio) != "" {
		if err := s.storeVoice(ctx, req.StudentID, req.VoiceAudio, &ev); err != nil {
			// A broken recording degrades the transcribe stage, not the submission.
			logger.Warn().Err(err).Msg("Voice recording not usable")
		}
	}

	if err := s.deps.Dispatcher.Dispatch(ctx, ev); err != nil {
		if ev.AudioPath != "" {
			os.Remove(ev.AudioPath)
		}
		return fail("dispatch run", err)
	}

	logger.Info().Str("volunteerId", job.VolunteerID).Msg("Verification submitted")
	metrics.New().Count("JobsSubmitted").Flush()
	return job, nil
}

// storeVoice decodes the data URL and either uploads it to S3 (AudioKey)
// or writes it to a temp file (AudioPath).
func (s *Service) storeVoice(ctx context.Context, studentID, dataURL string, ev *WorkerEvent) error {
	data, mimeType, err := media.DecodeDataURL(dataURL)
	if err != nil {
		return err
	}
	ext := media.ExtensionForMIME(mimeType)
	if ext == "" {
		ext = ".wav"
	}

	if s.deps.S3 != nil && s.deps.Bucket != "" {
		key := s3util.AudioKey(studentID, ext)
		if err := s3util.UploadBytes(ctx, s.deps.S3, s.deps.Bucket, key, data, mimeType); err != nil {
			return err
		}
		ev.AudioKey = key
		return nil
	}

	f, err := os.CreateTemp(s.deps.TempDir, "pv-voice-*"+ext)
	if err != nil {
		return fmt.Errorf("create voice file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write voice file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("close voice file: %w", err)
	}
	ev.AudioPath = f.Name()
	return nil
}

// Process handles one background event.
func (s *Service) Process(ctx context.Context, ev WorkerEvent) error {
	switch ev.Type {
	case EventRun:
		return s.processRun(ctx, ev)
	case EventAdminDecision:
		if ev.Decision == nil {
			return fmt.Errorf("%w: admin-decision event without decision", ErrInvalidRequest)
		}
		_, err := s.indexAdminDecision(ctx, *ev.Decision)
		return err
	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}
}

func (s *Service) processRun(ctx context.Context, ev WorkerEvent) (err error) {
	start := time.Now()
	logger := log.With().Str("jobId", ev.JobID).Str("studentId", ev.StudentID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Run panicked")
			err = fmt.Errorf("run panicked: %v", r)
			_ = jobutil.SetJobError(ctx, ev.JobID, ev.StudentID, err.Error(), s.deps.Jobs.Fail)
		}
		outcome := "Done"
		if err != nil {
			outcome = "Failed"
		}
		metrics.New().
			Dimension("Outcome", outcome).
			Duration("JobLatencyMs", start).
			Count("Jobs").
			Flush()
	}()

	if err := s.deps.Jobs.MarkRunning(ctx, ev.JobID); err != nil {
		if ev.AudioPath != "" {
			os.Remove(ev.AudioPath)
		}
		_ = jobutil.SetJobError(ctx, ev.JobID, ev.StudentID, fmt.Sprintf("mark running: %v", err), s.deps.Jobs.Fail)
		return fmt.Errorf("mark running: %w", err)
	}

	in, cleanup := s.prepareEvidence(ctx, ev)
	defer cleanup()

	run := s.deps.Orchestrator.Run(ctx, in)
	out := run.Output()

	if s.deps.Records != nil {
		err := s.deps.Records.SaveResult(ctx, records.Result{
			StudentID:      ev.StudentID,
			VolunteerID:    ev.VolunteerID,
			Recommendation: ev.Recommendation,
			AudioKey:       ev.AudioKey,
			Output:         out,
		})
		if err != nil {
			_ = jobutil.SetJobError(ctx, ev.JobID, ev.StudentID, fmt.Sprintf("save verification: %v", err), s.deps.Jobs.Fail)
			return fmt.Errorf("save verification: %w", err)
		}
	}

	s.recordCase(ctx, run.Case(ev.StudentID, in.District, s.now()), OriginPipeline)

	if err := s.deps.Jobs.Complete(ctx, ev.JobID, out); err != nil {
		_ = jobutil.SetJobError(ctx, ev.JobID, ev.StudentID, fmt.Sprintf("complete job: %v", err), s.deps.Jobs.Fail)
		return fmt.Errorf("complete job: %w", err)
	}
	logger.Info().
		Str("decision", string(out.Decision)).
		Float64("score", out.Score).
		Strs("degraded", out.DegradedStages).
		Dur("elapsed", time.Since(start)).
		Msg("Verification run complete")
	return nil
}

// prepareEvidence resolves district, audio and photos for a run. Missing
// evidence only narrows the input; the pipeline degrades on its own.
func (s *Service) prepareEvidence(ctx context.Context, ev WorkerEvent) (pipeline.Input, func()) {
	var cleanups []func()
	if ev.AudioPath != "" {
		path := ev.AudioPath
		cleanups = append(cleanups, func() { os.Remove(path) })
	}

	in := pipeline.Input{
		TextComment: ev.Comment,
		AudioPath:   ev.AudioPath,
		ImagePaths:  ev.ImagePaths,
		IsTanglish:  ev.IsTanglish,
		District:    ev.District,
	}

	if in.AudioPath == "" && ev.AudioKey != "" && s.deps.S3 != nil {
		path, cleanup, err := s3util.DownloadToTempFile(ctx, s.deps.S3, s.deps.Bucket, ev.AudioKey)
		if err != nil {
			log.Warn().Err(err).Str("key", ev.AudioKey).Msg("Voice recording not downloaded")
		} else {
			in.AudioPath = path
			cleanups = append(cleanups, cleanup)
		}
	}

	if s.deps.Records != nil {
		if in.District == "" {
			district, err := s.deps.Records.StudentDistrict(ctx, ev.StudentID)
			if err != nil {
				log.Warn().Err(err).Str("studentId", ev.StudentID).Msg("District lookup failed")
			}
			in.District = district
		}
		if len(in.ImagePaths) == 0 && s.deps.S3 != nil {
			keys, err := s.deps.Records.ImageKeys(ctx, ev.StudentID)
			if err != nil {
				log.Warn().Err(err).Str("studentId", ev.StudentID).Msg("Image lookup failed")
			}
			paths, cleanup := s3util.DownloadAll(ctx, s.deps.S3, s.deps.Bucket, keys)
			in.ImagePaths = paths
			cleanups = append(cleanups, cleanup)
		}
	}
	if in.District == "" {
		in.District = records.DefaultDistrict
	}

	return in, func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}

// recordCase appends a case and announces it. Index failures are logged: a
// case that cannot be indexed never fails the job.
func (s *Service) recordCase(ctx context.Context, hc rag.HistoricalCase, origin string) bool {
	if s.deps.Index == nil || !s.deps.Index.Enabled() {
		return false
	}
	if err := s.deps.Index.Add(ctx, hc); err != nil {
		log.Warn().Err(err).Str("studentId", hc.Metadata.StudentID).Str("origin", origin).Msg("Case not indexed")
		return false
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.Publish(ctx, hc, origin); err != nil {
			log.Warn().Err(err).Str("caseId", hc.CaseID).Msg("Case event not published")
		}
	}
	return true
}

// RecordAdminDecision stores the final status on the student and dispatches
// indexing of the finalized case.
func (s *Service) RecordAdminDecision(ctx context.Context, d AdminDecision) error {
	d.StudentID = strings.TrimSpace(d.StudentID)
	d.Status = strings.TrimSpace(d.Status)
	if d.StudentID == "" || d.Status == "" {
		return fmt.Errorf("%w: studentId and status are required", ErrInvalidRequest)
	}
	if s.deps.Records == nil {
		return ErrRecordsUnavailable
	}
	if err := s.deps.Records.SetAdminDecision(ctx, d.StudentID, d.Status, d.Remarks); err != nil {
		return err
	}
	log.Info().Str("studentId", d.StudentID).Str("status", d.Status).Msg("Admin decision recorded")

	if s.deps.Index == nil || !s.deps.Index.Enabled() {
		return nil
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, WorkerEvent{Type: EventAdminDecision, StudentID: d.StudentID, Decision: &d}); err != nil {
		log.Warn().Err(err).Str("studentId", d.StudentID).Msg("Admin case indexing not dispatched")
	}
	return nil
}

// indexAdminDecision builds the finalized case from the latest verification
// and appends it. It returns the case, or nil when nothing was indexed.
func (s *Service) indexAdminDecision(ctx context.Context, d AdminDecision) (*rag.HistoricalCase, error) {
	if s.deps.Records == nil {
		return nil, ErrRecordsUnavailable
	}
	rec, err := s.deps.Records.LatestCase(ctx, d.StudentID)
	if errors.Is(err, records.ErrNotFound) {
		log.Info().Str("studentId", d.StudentID).Msg("No verification on record, admin case not indexed")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc := rag.BuildCaseDocument(rag.CaseDocument{
		District:      rec.District,
		AIDecision:    rec.AIDecision,
		AdminDecision: d.Status,
		Score:         rec.Score,
		Comments:      rec.Comment,
		Voice:         rec.VoiceComments,
		Summary:       rec.Summary,
		HouseAnalysis: rec.HouseAnalysis,
		AdminRemarks:  d.Remarks,
	})
	verified := rec.VerifiedAt
	if verified.IsZero() {
		verified = s.now()
	}
	hc := rag.HistoricalCase{
		CaseID:        rag.NewCaseID(d.StudentID, s.now()),
		NarrativeText: doc,
		Metadata: rag.CaseMetadata{
			StudentID:        d.StudentID,
			District:         rec.District,
			FinalDecision:    d.Status,
			AIDecision:       rec.AIDecision,
			AdminDecision:    d.Status,
			Score:            rec.Score,
			VerificationDate: verified,
			HasAdminRemarks:  strings.TrimSpace(d.Remarks) != "",
		},
	}
	if !s.recordCase(ctx, hc, OriginAdmin) {
		return nil, nil
	}
	return &hc, nil
}

// Package main provides the worker Lambda. The API Lambda invokes it
// asynchronously (InvocationType=Event) with a WorkerEvent:
//
//	{"type": "pv-run"|"admin-decision", "jobId": "pv-...", "studentId": "...", ...}
//
// Results are written to the job store, which the API polls.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/bootstrap"
	"github.com/fpang/scholarship-verification/internal/config"
	"github.com/fpang/scholarship-verification/internal/logging"
	"github.com/fpang/scholarship-verification/internal/worker"
)

var (
	coldStart = true
	svc       *worker.Service
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	app, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Bootstrap failed")
	}
	// The worker runs events synchronously; it never re-dispatches.
	svc = worker.FromApp(app, syncDispatcher{})
	app.StartupLog("pv-worker-lambda", initStart)
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event worker.WorkerEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "pv-worker-lambda").Msg("Cold start, first invocation")
	}
	log.Info().
		Str("type", event.Type).
		Str("jobId", event.JobID).
		Str("studentId", event.StudentID).
		Msg("Worker Lambda invoked")
	return svc.Process(ctx, event)
}

// syncDispatcher runs follow-up events inline within the invocation.
type syncDispatcher struct{}

func (syncDispatcher) Dispatch(ctx context.Context, ev worker.WorkerEvent) error {
	return svc.Process(ctx, ev)
}

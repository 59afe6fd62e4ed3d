// Package jobutil holds job lifecycle helpers shared by the worker and the
// Lambda handlers.
package jobutil

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ErrorWriter persists a job failure, e.g. store.JobStore.Fail.
type ErrorWriter func(ctx context.Context, jobID, reason string) error

// SetJobError logs the failure and persists it through write. A persistence
// error is logged and returned.
func SetJobError(ctx context.Context, jobID, studentID, msg string, write ErrorWriter) error {
	log.Error().
		Str("jobId", jobID).
		Str("studentId", studentID).
		Str("error", msg).
		Msg("Job failed")
	if err := write(ctx, jobID, msg); err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to persist job failure")
		return err
	}
	return nil
}

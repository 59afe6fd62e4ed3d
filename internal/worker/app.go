package worker

import (
	"github.com/fpang/scholarship-verification/internal/bootstrap"
)

// FromApp wires a Service from the bootstrap graph. A nil dispatcher means
// in-process runs.
func FromApp(app *bootstrap.App, dispatcher Dispatcher) *Service {
	deps := Deps{
		Jobs:         app.Jobs,
		Orchestrator: app.Orchestrator,
		Bucket:       app.Config.AWS.Bucket,
		Dispatcher:   dispatcher,
		TempDir:      app.Config.UploadFolder,
	}
	// Optional parts stay nil interfaces rather than typed nils.
	if app.Index != nil {
		deps.Index = app.Index
	}
	if app.Records != nil {
		deps.Records = app.Records
	}
	if app.Events != nil {
		deps.Events = app.Events
	}
	if app.S3 != nil {
		deps.S3 = app.S3
	}
	return NewService(deps)
}

// DispatcherFor picks the Lambda dispatcher when a worker function is
// configured, otherwise nil (in-process).
func DispatcherFor(app *bootstrap.App) Dispatcher {
	if app.Lambda != nil && app.Config.AWS.WorkerLambdaARN != "" {
		return NewLambdaDispatcher(app.Lambda, app.Config.AWS.WorkerLambdaARN)
	}
	return nil
}

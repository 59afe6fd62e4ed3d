package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// ErrShuttingDown is returned by LocalDispatcher after Shutdown began.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Dispatcher hands a WorkerEvent to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev WorkerEvent) error
}

// Handler processes one event, normally Service.Process.
type Handler func(ctx context.Context, ev WorkerEvent) error

// LocalDispatcher runs events on tracked goroutines in this process.
type LocalDispatcher struct {
	handler Handler

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

var _ Dispatcher = (*LocalDispatcher)(nil)

// NewLocalDispatcher creates a dispatcher that calls handler.
func NewLocalDispatcher(handler Handler) *LocalDispatcher {
	return &LocalDispatcher{handler: handler}
}

// Dispatch starts the event in the background. The run outlives the
// caller's request: it is detached from ctx cancellation.
func (d *LocalDispatcher) Dispatch(ctx context.Context, ev WorkerEvent) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.inflight.Done()
		if err := d.handler(runCtx, ev); err != nil {
			log.Error().Err(err).Str("type", ev.Type).Str("jobId", ev.JobID).Msg("Background event failed")
		}
	}()
	return nil
}

// Shutdown stops accepting events and waits for in-flight ones, or for ctx.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight runs: %w", ctx.Err())
	}
}

// Invoker is the subset of the Lambda client used for async dispatch.
type Invoker interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaDispatcher sends events to the worker Lambda with
// InvocationType=Event so the API returns without waiting.
type LambdaDispatcher struct {
	client      Invoker
	functionARN string
}

var _ Dispatcher = (*LambdaDispatcher)(nil)

// NewLambdaDispatcher creates a dispatcher for the worker function.
func NewLambdaDispatcher(client Invoker, functionARN string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, functionARN: functionARN}
}

// Dispatch invokes the worker asynchronously.
func (d *LambdaDispatcher) Dispatch(ctx context.Context, ev WorkerEvent) error {
	if d.client == nil || d.functionARN == "" {
		return fmt.Errorf("worker lambda not configured")
	}
	if ev.AudioPath != "" || len(ev.ImagePaths) > 0 {
		return fmt.Errorf("local file paths cannot be sent to the worker lambda")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal worker event: %w", err)
	}
	log.Debug().Int("payloadSize", len(payload)).Msg("Invoking worker Lambda asynchronously")

	_, err = d.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(d.functionARN),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke worker lambda: %w", err)
	}
	log.Debug().Str("type", ev.Type).Str("jobId", ev.JobID).Msg("Worker Lambda invoked asynchronously")
	return nil
}

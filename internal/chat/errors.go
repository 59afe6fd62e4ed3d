package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"
)

// ErrUnavailable means a backend is not configured (e.g. no credential).
// Callers with an alternate backend fall back; others degrade to neutral output.
var ErrUnavailable = errors.New("backend unavailable")

// RetryableError marks a transient backend failure (rate limit, quota,
// overload) that is worth retrying after a delay.
type RetryableError struct {
	Backend string
	Code    int
	Err     error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s transient error (code %d): %v", e.Backend, e.Code, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// classify wraps transport errors from either SDK into a RetryableError when
// the HTTP status or gRPC status says the call may succeed later. Anything
// else is returned unchanged and treated as fatal.
func classify(backend string, err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}

	var gErr genai.APIError
	if errors.As(err, &gErr) {
		if retryableStatus(gErr.Code) || strings.Contains(strings.ToUpper(gErr.Status), "RESOURCE_EXHAUSTED") {
			return &RetryableError{Backend: backend, Code: gErr.Code, Err: err}
		}
		return err
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil && retryableStatus(gErrPtr.Code) {
		return &RetryableError{Backend: backend, Code: gErrPtr.Code, Err: err}
	}

	var oErr *openai.Error
	if errors.As(err, &oErr) && retryableStatus(oErr.StatusCode) {
		return &RetryableError{Backend: backend, Code: oErr.StatusCode, Err: err}
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

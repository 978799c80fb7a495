package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrWebViewDoesNotExist is delivered to a screenshot callback whose
	// webview, or one of its pipelines, is gone.
	ErrWebViewDoesNotExist = errors.New("webview does not exist")
	// ErrReadbackFailed is delivered when pixels could not be read back from
	// the presented frame.
	ErrReadbackFailed = errors.New("readback failed")
	// ErrUnavailable is returned by embedder calls made after shutdown.
	ErrUnavailable = errors.New("browser session unavailable")
)

// ReadbackError wraps a rasterizer failure so callers can match
// ErrReadbackFailed while keeping the cause.
type ReadbackError struct {
	Stage string
	Err   error
}

func (e *ReadbackError) Error() string {
	return fmt.Sprintf("readback failed during %s: %v", e.Stage, e.Err)
}

func (e *ReadbackError) Is(target error) bool {
	return target == ErrReadbackFailed
}

func (e *ReadbackError) Unwrap() error {
	return e.Err
}

// IsWebViewGone reports whether err means the target webview vanished.
func IsWebViewGone(err error) bool {
	return errors.Is(err, ErrWebViewDoesNotExist)
}

package device

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransientDevice marks failures worth retrying: transport errors,
	// timeouts and 408/429/5xx responses.
	ErrTransientDevice = errors.New("transient device error")
	// ErrFatalDevice marks failures that will not go away on retry, such as a
	// rejected key or a malformed request.
	ErrFatalDevice = errors.New("fatal device error")
)

// DeviceError describes a failed push or shutoff after all attempts.
type DeviceError struct {
	Op         string
	StatusCode int
	Attempts   int
	Transient  bool
	Err        error
}

func (e *DeviceError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s: %s device error after %d attempt(s)", e.Op, kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() []error {
	class := ErrFatalDevice
	if e.Transient {
		class = ErrTransientDevice
	}
	if e.Err == nil {
		return []error{class}
	}
	return []error{class, e.Err}
}

// retryableStatus reports whether a non-2xx status is worth another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

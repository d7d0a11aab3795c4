package imagemage

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned when a request's parameters do not fit its
// operation (edit without an image, additional images on generate, ...).
var ErrInvalidRequest = errors.New("invalid request")

// ResolutionErrorKind classifies why an image reference could not be resolved.
type ResolutionErrorKind int

const (
	NotFound ResolutionErrorKind = iota + 1
	InvalidReference
)

func (k ResolutionErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidReference:
		return "invalid reference"
	default:
		return "unknown"
	}
}

// ResolutionError reports a reference that does not name a usable local file.
type ResolutionError struct {
	Kind      ResolutionErrorKind
	Reference string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve image %q: %s: %v", e.Reference, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve image %q: %s", e.Reference, e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DownloadErrorKind classifies remote fetch failures.
type DownloadErrorKind int

const (
	DownloadTimeout DownloadErrorKind = iota + 1
	HTTPStatus
	Network
	TooLarge
)

func (k DownloadErrorKind) String() string {
	switch k {
	case DownloadTimeout:
		return "timeout"
	case HTTPStatus:
		return "http status"
	case Network:
		return "network"
	case TooLarge:
		return "too large"
	default:
		return "unknown"
	}
}

// DownloadError reports a failed fetch of a remote image. StatusCode is set
// for HTTPStatus.
type DownloadError struct {
	Kind       DownloadErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Kind == HTTPStatus:
		return fmt.Sprintf("download %s: unexpected HTTP status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("download %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("download %s: %s", e.URL, e.Kind)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ProcessErrorKind classifies imagemage run failures.
type ProcessErrorKind int

const (
	ExecutionFailed ProcessErrorKind = iota + 1
	ProcessTimeout
	MissingOutput
)

func (k ProcessErrorKind) String() string {
	switch k {
	case ExecutionFailed:
		return "execution failed"
	case ProcessTimeout:
		return "timeout"
	case MissingOutput:
		return "missing output"
	default:
		return "unknown"
	}
}

// ProcessError reports a failed imagemage run. ExitCode is -1 when the
// process never started. Stderr holds an excerpt of the diagnostic output.
type ProcessError struct {
	Kind     ProcessErrorKind
	ExitCode int
	Stderr   string
	Path     string // expected output, for MissingOutput
	Err      error
}

func (e *ProcessError) Error() string {
	switch e.Kind {
	case ExecutionFailed:
		msg := fmt.Sprintf("imagemage failed (exit %d)", e.ExitCode)
		if e.Stderr != "" {
			msg += ": " + e.Stderr
		} else if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	case ProcessTimeout:
		return fmt.Sprintf("imagemage timed out: %v", e.Err)
	case MissingOutput:
		return fmt.Sprintf("imagemage exited successfully but produced no image at %s", e.Path)
	default:
		return fmt.Sprintf("imagemage: %v", e.Err)
	}
}

func (e *ProcessError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a download or process timeout.
func IsTimeout(err error) bool {
	var de *DownloadError
	if errors.As(err, &de) && de.Kind == DownloadTimeout {
		return true
	}
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Kind == ProcessTimeout
}

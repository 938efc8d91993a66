package session

import (
	"errors"
	"fmt"
)

// Errors returned synchronously from Open.
var (
	ErrAlreadyOpen      = errors.New("camera is already open")
	ErrNoCamera         = errors.New("no front-facing camera found")
	ErrPermissionDenied = errors.New("camera permission not granted")
)

// Errors delivered asynchronously through Listener.ImageFailed.
var (
	ErrDeviceDisconnected   = errors.New("camera device disconnected")
	ErrConfigurationFailed  = errors.New("camera configuration failed")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrCaptureRequestFailed = errors.New("capture request failed")
)

// ErrShutdown is returned by requests made after Shutdown.
var ErrShutdown = errors.New("camera session shut down")

var kinds = []error{
	ErrAlreadyOpen,
	ErrNoCamera,
	ErrPermissionDenied,
	ErrDeviceDisconnected,
	ErrConfigurationFailed,
	ErrStorageUnavailable,
	ErrCaptureRequestFailed,
}

// Failure is a hardware failure reported by an adapter. Kind is one of the
// sentinel errors above; Err is the underlying driver error, if any.
type Failure struct {
	Kind    error
	Message string
	Err     error
}

// Fail builds a Failure of the given kind.
func Fail(kind error, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Kind, f.Err}
	}
	return []error{f.Kind}
}

// Reason returns a short name for the failure kind of err, or "unknown".
func Reason(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			switch k {
			case ErrAlreadyOpen:
				return "already_open"
			case ErrNoCamera:
				return "no_camera"
			case ErrPermissionDenied:
				return "permission_denied"
			case ErrDeviceDisconnected:
				return "device_disconnected"
			case ErrConfigurationFailed:
				return "configuration_failed"
			case ErrStorageUnavailable:
				return "storage_unavailable"
			case ErrCaptureRequestFailed:
				return "capture_request_failed"
			}
		}
	}
	return "unknown"
}

// message extracts the human readable part of a failure.
func message(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}

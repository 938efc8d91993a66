// Package camera adapts the two camera driver generations to the session
// Adapter contract.
//
// The legacy generation exposes numbered cameras with a synchronous open,
// a preview and a picture callback. The modern generation exposes string
// identifiers, callback-driven device and capture-session lifecycles and an
// image reader output. Both deliver encoded JPEG bytes.
package camera

import (
	"fmt"

	"github.com/cjeanneret/snapgo/internal/session"
)

// Poster runs a function on the camera worker queue.
type Poster interface {
	Post(fn func()) error
}

// Facing is the direction a lens points to.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ---------- Legacy generation ----------

// LegacyInfo describes a legacy camera before it is opened.
type LegacyInfo struct {
	Facing Facing
	// Orientation is the clockwise angle the sensor image must be rotated
	// by to be upright on the display in its natural orientation.
	Orientation int
}

// LegacyParameters is the parameter block of an open legacy camera.
type LegacyParameters struct {
	PictureSizes []session.Size
	PictureSize  session.Size
	Rotation     int
}

// LegacyAPI is the legacy driver entry point.
type LegacyAPI interface {
	NumberOfCameras() int
	CameraInfo(id int) (LegacyInfo, error)
	Open(id int) (LegacyDevice, error)
}

// LegacyDevice is an open legacy camera.
type LegacyDevice interface {
	Parameters() LegacyParameters
	SetParameters(p LegacyParameters) error
	StartPreview() error
	StopPreview()
	// TakePicture triggers an exposure; cb runs on a driver goroutine.
	TakePicture(cb func(data []byte, err error)) error
	Release()
}

// ---------- Modern generation ----------

// Characteristics describes a modern camera before it is opened.
type Characteristics struct {
	Facing            Facing
	SensorOrientation int
	// JPEGSizes is nil for devices without a stream configuration.
	JPEGSizes []session.Size
}

// Manager is the modern driver entry point.
type Manager interface {
	CameraIDs() ([]string, error)
	Characteristics(id string) (Characteristics, error)
	// OpenCamera opens id asynchronously; exactly one of cb.Opened or
	// cb.Error eventually runs, on a driver goroutine.
	OpenCamera(id string, cb DeviceCallbacks) error
	NewImageReader(size session.Size, maxImages int) (ImageReader, error)
}

// DeviceCallbacks receive device lifecycle notifications.
type DeviceCallbacks struct {
	Opened       func(Device)
	Disconnected func(Device)
	Error        func(d Device, code int)
}

// Device is an open modern camera.
type Device interface {
	ID() string
	CreateCaptureSession(output ImageReader, cb SessionCallbacks) error
	Close()
}

// SessionCallbacks receive capture session configuration results.
type SessionCallbacks struct {
	Configured      func(CaptureSession)
	ConfigureFailed func(CaptureSession)
}

// StillRequest is a single still capture targeting an image reader.
type StillRequest struct {
	Target          ImageReader
	JPEGOrientation int
}

// CaptureSession submits requests to a configured device.
type CaptureSession interface {
	Capture(req StillRequest) error
	AbortCaptures() error
	Close() error
}

// ImageReader is the still image output of a capture session.
type ImageReader interface {
	Size() session.Size
	// SetOnImageAvailable registers fn; it runs on a driver goroutine.
	SetOnImageAvailable(fn func(ImageReader))
	AcquireLatestImage() ([]byte, error)
	Close()
}

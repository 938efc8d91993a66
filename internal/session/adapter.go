package session

import "fmt"

// Adapter drives one camera device through a specific driver generation.
//
// All methods are called from the session's worker goroutine. Continuations
// may be invoked from any goroutine; the session marshals them back onto its
// queue before touching state.
type Adapter interface {
	// Generation identifies the driver generation, fixed for the adapter's life.
	Generation() Generation

	// RequestOpen enumerates devices, picks the front-facing one, configures a
	// still output at its largest size and opens it exclusively. It returns
	// ErrNoCamera (possibly wrapped) when no front-facing device exists; every
	// later failure goes through onFailed.
	RequestOpen(onOpened func(DeviceInfo), onFailed func(error)) error

	// RequestCapture issues one exposure on the open device.
	RequestCapture(req CaptureRequest, onImage func([]byte), onFailed func(error))

	// RequestClose releases whatever session, device and output were acquired.
	// It must tolerate partially acquired resources and repeated calls.
	RequestClose()
}

// Generation identifies a driver generation.
type Generation int

const (
	// Legacy is the first generation: synchronous open, preview surface and
	// picture callback, sensor orientation reported as a display offset.
	Legacy Generation = iota + 1
	// Modern is the second generation: callback-driven open, capture sessions
	// and an image reader output.
	Modern
)

func (g Generation) String() string {
	switch g {
	case Legacy:
		return "legacy"
	case Modern:
		return "modern"
	default:
		return "unknown"
	}
}

// OrientationUnknown is the device orientation reading when no sensor data is available.
const OrientationUnknown = -1

// QuantizeOrientation rounds a device orientation reading in degrees to the
// nearest multiple of 90. The result is in [0, 360].
func QuantizeOrientation(deg int) int {
	return (deg + 45) / 90 * 90
}

// JPEGRotation returns the clockwise rotation to apply to the JPEG so that
// it appears upright for the given device orientation reading.
//
// The legacy driver reports the sensor orientation as an offset from which
// the device rotation is subtracted; the modern driver reports it as a sensor
// angle to which the negated device rotation is added. Both land on the same
// visual orientation.
func (g Generation) JPEGRotation(sensorOrientation, reading int) int {
	if reading == OrientationUnknown {
		return 0
	}
	device := QuantizeOrientation(reading)
	switch g {
	case Legacy:
		return (sensorOrientation - device + 360) % 360
	default:
		device = -device
		return (sensorOrientation + device + 360) % 360
	}
}

// Size is an output resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// Area returns Width*Height.
func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Largest returns the size with the largest area. The first one wins a tie.
func Largest(sizes []Size) (Size, bool) {
	if len(sizes) == 0 {
		return Size{}, false
	}
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best, true
}

// DeviceInfo describes an opened device.
type DeviceInfo struct {
	ID                string
	SensorOrientation int
	Sizes             []Size
}

// CaptureRequest describes one exposure.
type CaptureRequest struct {
	Size     Size
	Rotation int
}

package camera

import (
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// readerImages is the image reader queue depth.
const readerImages = 2

// ModernAdapter drives a modern-generation camera.
//
// Driver callbacks arrive on driver goroutines and are re-posted to the
// worker queue before they touch adapter state. gen guards against
// callbacks that belong to a device released in the meantime.
type ModernAdapter struct {
	mgr Manager
	q   Poster

	gen     uint64
	id      string
	chars   Characteristics
	reader  ImageReader
	device  Device
	capture CaptureSession
}

// NewModern creates an adapter over mgr. Driver callbacks are posted to q.
func NewModern(mgr Manager, q Poster) *ModernAdapter {
	return &ModernAdapter{mgr: mgr, q: q}
}

// Generation implements session.Adapter.
func (a *ModernAdapter) Generation() session.Generation {
	return session.Modern
}

// post runs fn on the queue unless the device it belongs to has been
// released; stale, if set, then runs instead to free what the driver handed over.
func (a *ModernAdapter) post(gen uint64, fn, stale func()) {
	err := a.q.Post(func() {
		if gen != a.gen {
			debug.Trace("Modern: dropping callback for released device")
			if stale != nil {
				stale()
			}
			return
		}
		fn()
	})
	if err != nil {
		debug.Trace("Modern: callback dropped: %v", err)
	}
}

// RequestOpen implements session.Adapter.
func (a *ModernAdapter) RequestOpen(onOpened func(session.DeviceInfo), onFailed func(error)) error {
	ids, err := a.mgr.CameraIDs()
	if err != nil {
		return session.Fail(session.ErrDeviceDisconnected, err, "unable to list cameras")
	}

	frontID := ""
	var size session.Size
	for _, id := range ids {
		chars, err := a.mgr.Characteristics(id)
		if err != nil {
			return session.Fail(session.ErrDeviceDisconnected, err, "unable to read characteristics of camera %s", id)
		}
		if chars.Facing != FacingFront {
			continue
		}
		debug.Verbose("Modern: found a front-facing camera %s", id)
		frontID = id
		largest, ok := session.Largest(chars.JPEGSizes)
		if !ok {
			// no stream configuration, keep looking
			continue
		}
		a.chars = chars
		size = largest
		break
	}
	if frontID == "" {
		return session.ErrNoCamera
	}
	if size.Area() == 0 {
		return session.Fail(session.ErrConfigurationFailed, nil, "camera %s has no JPEG output sizes", frontID)
	}

	debug.Verbose("Modern: capture size %s", size)
	reader, err := a.mgr.NewImageReader(size, readerImages)
	if err != nil {
		return session.Fail(session.ErrConfigurationFailed, err, "unable to create image reader")
	}
	a.reader = reader
	a.id = frontID

	a.gen++
	gen := a.gen
	err = a.mgr.OpenCamera(frontID, DeviceCallbacks{
		Opened: func(d Device) {
			a.post(gen, func() { a.deviceOpened(gen, d, onOpened, onFailed) }, d.Close)
		},
		Disconnected: func(d Device) {
			a.post(gen, func() {
				a.device = d
				onFailed(session.Fail(session.ErrDeviceDisconnected, nil, "camera %s was disconnected", d.ID()))
			}, nil)
		},
		Error: func(d Device, code int) {
			a.post(gen, func() {
				a.device = d
				onFailed(session.Fail(session.ErrDeviceDisconnected, nil, "state error on device %s: code %d", d.ID(), code))
			}, nil)
		},
	})
	if err != nil {
		return session.Fail(session.ErrDeviceDisconnected, err, "unable to open camera %s", frontID)
	}
	return nil
}

func (a *ModernAdapter) deviceOpened(gen uint64, d Device, onOpened func(session.DeviceInfo), onFailed func(error)) {
	debug.Verbose("Modern: camera %s opened", d.ID())
	a.device = d
	if a.reader == nil {
		onFailed(session.Fail(session.ErrConfigurationFailed, nil, "image reader missing when configuring capture session"))
		return
	}

	err := d.CreateCaptureSession(a.reader, SessionCallbacks{
		Configured: func(cs CaptureSession) {
			a.post(gen, func() {
				debug.Verbose("Modern: finished configuring camera outputs")
				a.capture = cs
				onOpened(session.DeviceInfo{
					ID:                d.ID(),
					SensorOrientation: a.chars.SensorOrientation,
					Sizes:             a.chars.JPEGSizes,
				})
			}, func() { _ = cs.Close() })
		},
		ConfigureFailed: func(cs CaptureSession) {
			a.post(gen, func() {
				onFailed(session.Fail(session.ErrConfigurationFailed, nil, "configuration error on device %s", d.ID()))
			}, nil)
		},
	})
	if err != nil {
		onFailed(session.Fail(session.ErrConfigurationFailed, err, "failed to create a capture session"))
	}
}

// RequestCapture implements session.Adapter.
func (a *ModernAdapter) RequestCapture(req session.CaptureRequest, onImage func([]byte), onFailed func(error)) {
	if a.capture == nil || a.reader == nil {
		onFailed(session.Fail(session.ErrCaptureRequestFailed, nil, "session has been closed"))
		return
	}
	if req.Size.Area() > 0 && req.Size != a.reader.Size() {
		debug.Verbose("Modern: requested %s, reader configured for %s", req.Size, a.reader.Size())
	}

	gen := a.gen
	reader := a.reader
	reader.SetOnImageAvailable(func(ImageReader) {
		a.post(gen, func() {
			data, err := reader.AcquireLatestImage()
			if err != nil {
				onFailed(session.Fail(session.ErrCaptureRequestFailed, err, "failed to acquire image"))
				return
			}
			onImage(data)
		}, nil)
	})

	err := a.capture.Capture(StillRequest{Target: reader, JPEGOrientation: req.Rotation})
	if err != nil {
		onFailed(session.Fail(session.ErrCaptureRequestFailed, err, "failed to submit capture request"))
	}
}

// RequestClose implements session.Adapter. Teardown errors mean the device
// is already gone; they are logged and the resource is treated as released.
func (a *ModernAdapter) RequestClose() {
	a.gen++
	if a.capture != nil {
		if err := a.capture.AbortCaptures(); err != nil {
			debug.Errorf(err, "Modern: abort captures on camera %s", a.id)
		}
		if err := a.capture.Close(); err != nil {
			debug.Errorf(err, "Modern: close capture session on camera %s", a.id)
		}
		a.capture = nil
	}
	if a.device != nil {
		a.device.Close()
		a.device = nil
	}
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}
	a.id = ""
}

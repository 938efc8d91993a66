package camera

import (
	"strconv"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// LegacyOptions tunes the legacy adapter.
type LegacyOptions struct {
	// Landscape swaps picture width and height, the legacy driver expects
	// sizes in display orientation.
	Landscape bool
}

// LegacyAdapter drives a legacy-generation camera.
//
// When StartPreview fails after the device was acquired, only onFailed is
// reported. The session then emits Failed without Closed, because it never
// saw the device as open; the device itself is still released by the close
// sequence that follows the failure.
//
// Every method and every continuation runs on the worker queue; the adapter
// itself holds no lock. gen is bumped on each open and close so that work
// scheduled for an earlier device is discarded.
type LegacyAdapter struct {
	api  LegacyAPI
	q    Poster
	opts LegacyOptions

	gen    uint64
	id     int
	info   LegacyInfo
	device LegacyDevice
}

// NewLegacy creates an adapter over api. Driver work is posted to q.
func NewLegacy(api LegacyAPI, q Poster, opts LegacyOptions) *LegacyAdapter {
	return &LegacyAdapter{api: api, q: q, opts: opts, id: -1}
}

// Generation implements session.Adapter.
func (a *LegacyAdapter) Generation() session.Generation {
	return session.Legacy
}

// RequestOpen implements session.Adapter.
func (a *LegacyAdapter) RequestOpen(onOpened func(session.DeviceInfo), onFailed func(error)) error {
	id, info, ok := a.findFront()
	if !ok {
		return session.ErrNoCamera
	}

	a.gen++
	gen := a.gen
	return a.q.Post(func() {
		if gen != a.gen {
			return
		}
		a.open(id, info, onOpened, onFailed)
	})
}

func (a *LegacyAdapter) findFront() (int, LegacyInfo, bool) {
	n := a.api.NumberOfCameras()
	for id := 0; id < n; id++ {
		info, err := a.api.CameraInfo(id)
		if err != nil {
			debug.Verbose("Legacy: camera %d info: %v", id, err)
			continue
		}
		if info.Facing == FacingFront {
			debug.Verbose("Legacy: front-facing camera %d (orientation %d)", id, info.Orientation)
			return id, info, true
		}
	}
	return -1, LegacyInfo{}, false
}

func (a *LegacyAdapter) open(id int, info LegacyInfo, onOpened func(session.DeviceInfo), onFailed func(error)) {
	dev, err := a.api.Open(id)
	if err != nil {
		onFailed(session.Fail(session.ErrDeviceDisconnected, err, "camera %d failed to open", id))
		return
	}
	a.id, a.info, a.device = id, info, dev

	if err := dev.StartPreview(); err != nil {
		onFailed(session.Fail(session.ErrConfigurationFailed, err, "preview surface is unavailable or unsuitable"))
		return
	}

	sizes := dev.Parameters().PictureSizes
	debug.Verbose("Legacy: camera %d open, %d picture sizes", id, len(sizes))
	onOpened(session.DeviceInfo{
		ID:                strconv.Itoa(id),
		SensorOrientation: info.Orientation,
		Sizes:             sizes,
	})
}

// RequestCapture implements session.Adapter.
func (a *LegacyAdapter) RequestCapture(req session.CaptureRequest, onImage func([]byte), onFailed func(error)) {
	if a.device == nil {
		onFailed(session.Fail(session.ErrCaptureRequestFailed, nil, "camera is not open"))
		return
	}

	params := a.device.Parameters()
	params.Rotation = req.Rotation
	if req.Size.Area() > 0 {
		params.PictureSize = req.Size
		if a.opts.Landscape {
			params.PictureSize = session.Size{Width: req.Size.Height, Height: req.Size.Width}
		}
	}
	if err := a.device.SetParameters(params); err != nil {
		onFailed(session.Fail(session.ErrCaptureRequestFailed, err, "failed to set picture parameters"))
		return
	}

	gen := a.gen
	err := a.device.TakePicture(func(data []byte, err error) {
		perr := a.q.Post(func() {
			if gen != a.gen {
				return
			}
			if err != nil {
				onFailed(session.Fail(session.ErrCaptureRequestFailed, err, "picture callback failed"))
				return
			}
			onImage(data)
		})
		if perr != nil {
			debug.Trace("Legacy: picture callback dropped: %v", perr)
		}
	})
	if err != nil {
		onFailed(session.Fail(session.ErrCaptureRequestFailed, err, "failed to take picture"))
	}
}

// RequestClose implements session.Adapter.
func (a *LegacyAdapter) RequestClose() {
	a.gen++
	if a.device == nil {
		return
	}
	debug.Verbose("Legacy: releasing camera %d", a.id)
	a.device.StopPreview()
	a.device.Release()
	a.device = nil
	a.id = -1
}

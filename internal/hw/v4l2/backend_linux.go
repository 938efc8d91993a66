//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Backend serves the configured device nodes.
type Backend struct {
	opts Options

	mu    sync.Mutex
	sizes map[int][]session.Size
}

// New creates a backend over opts.Devices.
func New(opts Options) (*Backend, error) {
	if len(opts.Devices) == 0 {
		return nil, errors.New("v4l2: no capture devices configured")
	}
	return &Backend{opts: opts, sizes: make(map[int][]session.Size)}, nil
}

// Legacy returns the legacy-generation view.
func (b *Backend) Legacy() camera.LegacyAPI { return legacyAPI{b} }

// Modern returns the modern-generation view.
func (b *Backend) Modern() camera.Manager { return manager{b} }

func (b *Backend) spec(idx int) (Spec, error) {
	if idx < 0 || idx >= len(b.opts.Devices) {
		return Spec{}, fmt.Errorf("v4l2: no device %d", idx)
	}
	return b.opts.Devices[idx], nil
}

// open opens device idx and remembers its frame sizes.
func (b *Backend) open(idx int) (*stream, []session.Size, error) {
	spec, err := b.spec(idx)
	if err != nil {
		return nil, nil, err
	}
	s, sizes, err := openStream(spec.Path, b.opts)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	b.sizes[idx] = sizes
	b.mu.Unlock()
	return s, sizes, nil
}

// probe returns the frame sizes of device idx, opening it briefly if they
// are not known yet.
func (b *Backend) probe(idx int) ([]session.Size, error) {
	b.mu.Lock()
	sizes, ok := b.sizes[idx]
	b.mu.Unlock()
	if ok {
		return sizes, nil
	}
	s, sizes, err := b.open(idx)
	if err != nil {
		return nil, err
	}
	s.close()
	return sizes, nil
}

type legacyAPI struct{ b *Backend }

func (l legacyAPI) NumberOfCameras() int { return len(l.b.opts.Devices) }

func (l legacyAPI) CameraInfo(id int) (camera.LegacyInfo, error) {
	spec, err := l.b.spec(id)
	if err != nil {
		return camera.LegacyInfo{}, err
	}
	return camera.LegacyInfo{Facing: spec.Facing, Orientation: spec.Orientation}, nil
}

func (l legacyAPI) Open(id int) (camera.LegacyDevice, error) {
	s, sizes, err := l.b.open(id)
	if err != nil {
		return nil, err
	}
	return &legacyDevice{s: s, params: camera.LegacyParameters{PictureSizes: sizes}}, nil
}

type legacyDevice struct {
	s *stream

	mu     sync.Mutex
	params camera.LegacyParameters
}

func (d *legacyDevice) Parameters() camera.LegacyParameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.params
	p.PictureSizes = append([]session.Size(nil), d.params.PictureSizes...)
	return p
}

func (d *legacyDevice) SetParameters(p camera.LegacyParameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.PictureSize.Area() > 0 && !contains(d.params.PictureSizes, p.PictureSize) {
		return fmt.Errorf("v4l2: %s: unsupported picture size %s", d.s.path, p.PictureSize)
	}
	d.params.PictureSize = p.PictureSize
	d.params.Rotation = p.Rotation
	return nil
}

func (d *legacyDevice) pictureSize() session.Size {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.params.PictureSize.Area() > 0 {
		return d.params.PictureSize
	}
	largest, _ := session.Largest(d.params.PictureSizes)
	return largest
}

func (d *legacyDevice) StartPreview() error {
	return d.s.start(d.pictureSize())
}

func (d *legacyDevice) StopPreview() { d.s.stop() }

func (d *legacyDevice) TakePicture(cb func([]byte, error)) error {
	size := d.pictureSize()
	d.mu.Lock()
	rotation := d.params.Rotation
	d.mu.Unlock()
	go func() {
		if err := d.s.start(size); err != nil {
			cb(nil, err)
			return
		}
		if rotation != 0 {
			debug.Trace("v4l2: %s: frame left unrotated, JPEG rotation %d", d.s.path, rotation)
		}
		cb(d.s.grab())
	}()
	return nil
}

func (d *legacyDevice) Release() { d.s.close() }

func contains(sizes []session.Size, s session.Size) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}

type manager struct{ b *Backend }

func (m manager) CameraIDs() ([]string, error) {
	ids := make([]string, len(m.b.opts.Devices))
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids, nil
}

func (m manager) index(id string) (int, error) {
	idx, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("v4l2: unknown camera %q", id)
	}
	if _, err := m.b.spec(idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func (m manager) Characteristics(id string) (camera.Characteristics, error) {
	idx, err := m.index(id)
	if err != nil {
		return camera.Characteristics{}, err
	}
	spec := m.b.opts.Devices[idx]
	chars := camera.Characteristics{Facing: spec.Facing, SensorOrientation: spec.Orientation}
	if spec.Facing != camera.FacingFront {
		return chars, nil
	}
	sizes, err := m.b.probe(idx)
	if err != nil {
		return camera.Characteristics{}, err
	}
	chars.JPEGSizes = sizes
	return chars, nil
}

func (m manager) OpenCamera(id string, cb camera.DeviceCallbacks) error {
	idx, err := m.index(id)
	if err != nil {
		return err
	}
	go func() {
		d := &device{id: id}
		s, _, err := m.b.open(idx)
		if err != nil {
			debug.Errorf(err, "v4l2: open camera %s", id)
			cb.Error(d, errorCameraDevice)
			return
		}
		d.s = s
		cb.Opened(d)
	}()
	return nil
}

func (m manager) NewImageReader(size session.Size, maxImages int) (camera.ImageReader, error) {
	if size.Area() == 0 || maxImages <= 0 {
		return nil, fmt.Errorf("v4l2: invalid image reader %s x%d", size, maxImages)
	}
	return camera.NewFrameReader(size), nil
}

// errorCameraDevice is the device error code for a node that failed to open.
const errorCameraDevice = 4

type device struct {
	id string
	s  *stream
}

func (d *device) ID() string { return d.id }

func (d *device) CreateCaptureSession(output camera.ImageReader, cb camera.SessionCallbacks) error {
	r, ok := output.(*camera.FrameReader)
	if !ok {
		return errors.New("v4l2: unsupported image reader")
	}
	if d.s == nil {
		return fmt.Errorf("v4l2: camera %s is not open", d.id)
	}
	cs := &captureSession{s: d.s, out: r}
	go func() {
		if err := d.s.start(r.Size()); err != nil {
			debug.Errorf(err, "v4l2: configure camera %s", d.id)
			cb.ConfigureFailed(cs)
			return
		}
		cb.Configured(cs)
	}()
	return nil
}

func (d *device) Close() {
	if d.s != nil {
		d.s.close()
	}
}

type captureSession struct {
	s   *stream
	out *camera.FrameReader
}

func (c *captureSession) Capture(req camera.StillRequest) error {
	if req.Target != camera.ImageReader(c.out) {
		return errors.New("v4l2: request target is not a session output")
	}
	if req.JPEGOrientation != 0 {
		debug.Trace("v4l2: %s: frame left unrotated, JPEG orientation %d", c.s.path, req.JPEGOrientation)
	}
	go func() { c.out.Deliver(c.s.grab()) }()
	return nil
}

func (c *captureSession) AbortCaptures() error { return nil }

func (c *captureSession) Close() error {
	c.s.stop()
	return nil
}

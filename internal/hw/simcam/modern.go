package simcam

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Modern returns the modern-generation view of the backend.
func (b *Backend) Modern() camera.Manager {
	return manager{b}
}

type manager struct{ b *Backend }

func (m manager) CameraIDs() ([]string, error) {
	ids := make([]string, len(m.b.opts.Cameras))
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids, nil
}

func (m manager) index(id string) (int, error) {
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 0 || idx >= len(m.b.opts.Cameras) {
		return 0, fmt.Errorf("simcam: unknown camera %q", id)
	}
	return idx, nil
}

func (m manager) Characteristics(id string) (camera.Characteristics, error) {
	idx, err := m.index(id)
	if err != nil {
		return camera.Characteristics{}, err
	}
	c := m.b.opts.Cameras[idx]
	return camera.Characteristics{
		Facing:            c.Facing,
		SensorOrientation: c.Orientation,
		JPEGSizes:         append([]session.Size(nil), c.Sizes...),
	}, nil
}

func (m manager) OpenCamera(id string, cb camera.DeviceCallbacks) error {
	idx, err := m.index(id)
	if err != nil {
		return err
	}
	m.b.later(func() {
		dev := &device{b: m.b, idx: idx, id: id}
		if err := m.b.acquire(idx); err != nil {
			cb.Error(dev, 1)
			return
		}
		cb.Opened(dev)
	})
	return nil
}

func (m manager) NewImageReader(size session.Size, maxImages int) (camera.ImageReader, error) {
	if size.Area() <= 0 || maxImages <= 0 {
		return nil, fmt.Errorf("simcam: invalid image reader %s x%d", size, maxImages)
	}
	return camera.NewFrameReader(size), nil
}

type device struct {
	b   *Backend
	idx int
	id  string

	once sync.Once
}

func (d *device) ID() string { return d.id }

func (d *device) CreateCaptureSession(output camera.ImageReader, cb camera.SessionCallbacks) error {
	r, ok := output.(*camera.FrameReader)
	if !ok {
		return errors.New("simcam: foreign image reader")
	}
	cs := &captureSession{d: d, out: r}
	d.b.later(func() {
		if d.b.fault().Configure {
			cb.ConfigureFailed(cs)
			return
		}
		cb.Configured(cs)
	})
	return nil
}

func (d *device) Close() {
	d.once.Do(func() { d.b.release(d.idx) })
}

type captureSession struct {
	d   *device
	out *camera.FrameReader

	mu     sync.Mutex
	closed bool
}

func (s *captureSession) Capture(req camera.StillRequest) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("simcam: capture session closed")
	}
	if req.Target != camera.ImageReader(s.out) {
		return errors.New("simcam: request target is not a session output")
	}
	s.d.b.later(func() {
		s.out.Deliver(s.d.b.frame(s.out.Size(), req.JPEGOrientation))
	})
	return nil
}

func (s *captureSession) AbortCaptures() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("simcam: capture session closed")
	}
	return nil
}

func (s *captureSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

package simcam

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Legacy returns the legacy-generation view of the backend.
func (b *Backend) Legacy() camera.LegacyAPI {
	return legacyAPI{b}
}

type legacyAPI struct{ b *Backend }

func (l legacyAPI) NumberOfCameras() int {
	return len(l.b.opts.Cameras)
}

func (l legacyAPI) CameraInfo(id int) (camera.LegacyInfo, error) {
	if id < 0 || id >= len(l.b.opts.Cameras) {
		return camera.LegacyInfo{}, fmt.Errorf("simcam: no camera %d", id)
	}
	c := l.b.opts.Cameras[id]
	return camera.LegacyInfo{Facing: c.Facing, Orientation: c.Orientation}, nil
}

func (l legacyAPI) Open(id int) (camera.LegacyDevice, error) {
	if err := l.b.acquire(id); err != nil {
		return nil, err
	}
	sizes := append([]session.Size(nil), l.b.opts.Cameras[id].Sizes...)
	return &legacyDevice{
		b:  l.b,
		id: id,
		params: camera.LegacyParameters{
			PictureSizes: sizes,
		},
	}, nil
}

type legacyDevice struct {
	b  *Backend
	id int

	mu       sync.Mutex
	params   camera.LegacyParameters
	preview  bool
	released bool
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
	if d.released {
		return fmt.Errorf("simcam: camera %d released", d.id)
	}
	d.params.PictureSize = p.PictureSize
	d.params.Rotation = p.Rotation
	return nil
}

func (d *legacyDevice) StartPreview() error {
	if d.b.fault().Configure {
		return ErrInjected
	}
	d.mu.Lock()
	d.preview = true
	d.mu.Unlock()
	return nil
}

func (d *legacyDevice) StopPreview() {
	d.mu.Lock()
	d.preview = false
	d.mu.Unlock()
}

func (d *legacyDevice) TakePicture(cb func([]byte, error)) error {
	d.mu.Lock()
	if d.released || !d.preview {
		d.mu.Unlock()
		return fmt.Errorf("simcam: camera %d not previewing", d.id)
	}
	size, rotation := d.params.PictureSize, d.params.Rotation
	d.mu.Unlock()

	d.b.later(func() {
		cb(d.b.frame(size, rotation))
	})
	return nil
}

func (d *legacyDevice) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
	d.b.release(d.id)
}

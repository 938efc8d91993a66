// Package simcam provides in-memory cameras for both driver generations.
// It is used for development without hardware (mock mode) and in tests.
package simcam

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/session"
)

// ErrInUse is returned when opening a camera that is already open.
var ErrInUse = errors.New("simcam: camera in use")

// ErrInjected is the error produced by injected failures.
var ErrInjected = errors.New("simcam: injected failure")

// Camera describes one simulated device.
type Camera struct {
	Facing      camera.Facing
	Orientation int
	Sizes       []session.Size
}

// Faults selects which step fails.
type Faults struct {
	Open      bool
	Configure bool
	Capture   bool
}

// Options configures a Backend.
type Options struct {
	Cameras []Camera
	// Latency delays every asynchronous driver completion.
	Latency time.Duration
	Faults  Faults
}

// DefaultCameras is a back camera plus a front camera mounted at 270°.
func DefaultCameras() []Camera {
	return []Camera{
		{Facing: camera.FacingBack, Orientation: 90, Sizes: []session.Size{{Width: 1920, Height: 1080}}},
		{Facing: camera.FacingFront, Orientation: 270, Sizes: []session.Size{
			{Width: 640, Height: 480}, {Width: 1280, Height: 720}, {Width: 1600, Height: 1200},
		}},
	}
}

// Stats counts driver activity.
type Stats struct {
	Opens         int
	Releases      int
	Captures      int
	OpenNow       int
	MaxConcurrent int
}

// Backend simulates the camera hardware shared by both generations.
type Backend struct {
	opts Options

	mu     sync.Mutex
	faults Faults
	open   map[int]bool
	stats  Stats
}

// New creates a backend.
func New(opts Options) *Backend {
	if opts.Cameras == nil {
		opts.Cameras = DefaultCameras()
	}
	return &Backend{
		opts:   opts,
		faults: opts.Faults,
		open:   make(map[int]bool),
	}
}

// SetFaults changes the injected failures.
func (b *Backend) SetFaults(f Faults) {
	b.mu.Lock()
	b.faults = f
	b.mu.Unlock()
}

// Stats returns a copy of the activity counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Backend) fault() Faults {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults
}

func (b *Backend) acquire(idx int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.opts.Cameras) {
		return fmt.Errorf("simcam: no camera %d", idx)
	}
	if b.faults.Open {
		return ErrInjected
	}
	if b.open[idx] {
		return ErrInUse
	}
	b.open[idx] = true
	b.stats.Opens++
	b.stats.OpenNow++
	if b.stats.OpenNow > b.stats.MaxConcurrent {
		b.stats.MaxConcurrent = b.stats.OpenNow
	}
	debug.Trace("simcam: camera %d acquired", idx)
	return nil
}

func (b *Backend) release(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open[idx] {
		return
	}
	delete(b.open, idx)
	b.stats.Releases++
	b.stats.OpenNow--
	debug.Trace("simcam: camera %d released", idx)
}

// later runs fn on its own goroutine after the configured latency.
func (b *Backend) later(fn func()) {
	go func() {
		if b.opts.Latency > 0 {
			time.Sleep(b.opts.Latency)
		}
		fn()
	}()
}

// frame produces one JPEG exposure.
func (b *Backend) frame(size session.Size, rotation int) ([]byte, error) {
	b.mu.Lock()
	if b.faults.Capture {
		b.mu.Unlock()
		return nil, ErrInjected
	}
	b.stats.Captures++
	n := b.stats.Captures
	b.mu.Unlock()

	// A small thumbnail stands in for the full-size exposure.
	w, h := 64, 48
	if rotation == 90 || rotation == 270 {
		w, h = h, w
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: uint8(n * 40), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	debug.Trace("simcam: capture #%d (%s, rotation %d, %d bytes)", n, size, rotation, buf.Len())
	return buf.Bytes(), nil
}

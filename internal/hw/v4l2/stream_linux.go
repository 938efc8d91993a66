//go:build linux

package v4l2

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// mjpeg is the V4L2 fourcc 'MJPG'.
const mjpeg webcam.PixelFormat = 0x47504A4D

// stream is one opened device node. All webcam calls go through mu.
type stream struct {
	path    string
	timeout time.Duration
	warmup  int

	mu        sync.Mutex
	cam       *webcam.Webcam
	size      session.Size
	streaming bool
}

func openStream(path string, opts Options) (*stream, []session.Size, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("v4l2: open %s: %w", path, err)
	}
	if _, ok := cam.GetSupportedFormats()[mjpeg]; !ok {
		_ = cam.Close()
		return nil, nil, fmt.Errorf("v4l2: %s does not offer Motion-JPEG", path)
	}
	sizes := frameSizes(cam.GetSupportedFrameSizes(mjpeg))
	debug.Verbose("v4l2: %s opened, %d MJPEG frame sizes", path, len(sizes))
	return &stream{
		path:    path,
		timeout: opts.timeout(),
		warmup:  opts.Warmup,
		cam:     cam,
	}, sizes, nil
}

// frameSizes flattens the driver's frame size list. Stepwise ranges
// contribute their bounds only.
func frameSizes(fs []webcam.FrameSize) []session.Size {
	var out []session.Size
	seen := make(map[session.Size]bool)
	add := func(w, h uint32) {
		s := session.Size{Width: int(w), Height: int(h)}
		if s.Area() == 0 || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, f := range fs {
		if f.StepWidth != 0 || f.StepHeight != 0 {
			add(f.MinWidth, f.MinHeight)
		}
		add(f.MaxWidth, f.MaxHeight)
	}
	return out
}

// start streams at size, renegotiating the format if it changed.
func (s *stream) start(size session.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return fmt.Errorf("v4l2: %s is closed", s.path)
	}
	if s.streaming && size == s.size {
		return nil
	}
	if s.streaming {
		if err := s.cam.StopStreaming(); err != nil {
			return fmt.Errorf("v4l2: %s: stop streaming: %w", s.path, err)
		}
		s.streaming = false
	}

	f, w, h, err := s.cam.SetImageFormat(mjpeg, uint32(size.Width), uint32(size.Height))
	if err != nil {
		return fmt.Errorf("v4l2: %s: set format %s: %w", s.path, size, err)
	}
	if f != mjpeg {
		return fmt.Errorf("v4l2: %s: driver switched pixel format to %#x", s.path, uint32(f))
	}
	s.size = session.Size{Width: int(w), Height: int(h)}
	if s.size != size {
		debug.Verbose("v4l2: %s: requested %s, driver chose %s", s.path, size, s.size)
	}

	if err := s.cam.StartStreaming(); err != nil {
		return fmt.Errorf("v4l2: %s: start streaming: %w", s.path, err)
	}
	s.streaming = true

	for i := 0; i < s.warmup; i++ {
		if _, err := s.read(); err != nil {
			return err
		}
	}
	return nil
}

// grab returns the next complete frame.
func (s *stream) grab() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return nil, fmt.Errorf("v4l2: %s is not streaming", s.path)
	}
	return s.read()
}

func (s *stream) read() ([]byte, error) {
	secs := uint32(s.timeout / time.Second)
	if secs == 0 {
		secs = 1
	}
	err := s.cam.WaitForFrame(secs)
	var timeout *webcam.Timeout
	if errors.As(err, &timeout) {
		return nil, fmt.Errorf("v4l2: %s: no frame within %s", s.path, s.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("v4l2: %s: wait for frame: %w", s.path, err)
	}
	frame, err := s.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("v4l2: %s: read frame: %w", s.path, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("v4l2: %s: empty frame", s.path)
	}
	return bytes.Clone(frame), nil
}

func (s *stream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil || !s.streaming {
		return
	}
	if err := s.cam.StopStreaming(); err != nil {
		debug.Errorf(err, "v4l2: %s: stop streaming", s.path)
	}
	s.streaming = false
}

func (s *stream) close() {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return
	}
	if err := s.cam.Close(); err != nil {
		debug.Errorf(err, "v4l2: %s: close", s.path)
	}
	s.cam = nil
	debug.Verbose("v4l2: %s closed", s.path)
}

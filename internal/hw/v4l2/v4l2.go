// Package v4l2 exposes Video4Linux capture devices through both camera
// driver generations. Frames are requested as Motion-JPEG so a single
// dequeued buffer is a complete still image.
package v4l2

import (
	"errors"
	"time"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
)

// ErrUnsupported is returned on platforms without Video4Linux.
var ErrUnsupported = errors.New("v4l2: not supported on this platform")

// DefaultFrameTimeout bounds the wait for one frame.
const DefaultFrameTimeout = 5 * time.Second

// Spec describes one capture device node.
type Spec struct {
	Path        string
	Facing      camera.Facing
	Orientation int
}

// Options configures a Backend.
type Options struct {
	Devices      []Spec
	FrameTimeout time.Duration
	// Warmup is the number of frames discarded after streaming starts,
	// while the sensor settles exposure.
	Warmup int
}

func (o Options) timeout() time.Duration {
	if o.FrameTimeout <= 0 {
		return DefaultFrameTimeout
	}
	return o.FrameTimeout
}

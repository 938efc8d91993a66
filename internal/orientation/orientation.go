// Package orientation tracks the physical orientation of the device so
// captured stills can be tagged upright.
package orientation

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Unknown is reported when the orientation cannot be determined, for
// example while the device lies flat.
const Unknown = session.OrientationUnknown

// DefaultInterval is the polling period of a Tracker.
const DefaultInterval = 200 * time.Millisecond

// Source reads the current orientation in degrees, 0 to 359, or Unknown.
type Source interface {
	Read() (int, error)
}

// Static is a Source for a device mounted at a fixed angle.
type Static int

// Read implements Source.
func (s Static) Read() (int, error) { return int(s), nil }

// Tracker polls a Source while enabled. It implements
// session.OrientationTracker.
type Tracker struct {
	src      Source
	interval time.Duration

	mu      sync.Mutex
	reading int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a tracker over src. A nil src yields a tracker that
// cannot detect anything.
func NewTracker(src Source, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{src: src, interval: interval, reading: Unknown}
}

// CanDetect reports whether a sensor is available.
func (t *Tracker) CanDetect() bool {
	return t.src != nil
}

// Enable starts polling. It is a no-op if already enabled.
func (t *Tracker) Enable() {
	if t.src == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	// first reading before Enable returns so a capture right after
	// opening is already tagged
	t.reading = t.sample()
	go t.poll(ctx, t.done)
	debug.Verbose("Orientation: tracking enabled (every %v)", t.interval)
}

// Disable stops polling and forgets the last reading.
func (t *Tracker) Disable() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	t.mu.Lock()
	t.reading = Unknown
	t.mu.Unlock()
	debug.Verbose("Orientation: tracking disabled")
}

// Reading returns the last orientation, or Unknown.
func (t *Tracker) Reading() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reading
}

func (t *Tracker) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := t.sample()
			t.mu.Lock()
			if r != t.reading {
				debug.Trace("Orientation: %d -> %d", t.reading, r)
			}
			t.reading = r
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) sample() int {
	deg, err := t.src.Read()
	if err != nil {
		debug.Trace("Orientation: read failed: %v", err)
		return Unknown
	}
	if deg == Unknown {
		return Unknown
	}
	return ((deg % 360) + 360) % 360
}

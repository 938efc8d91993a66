package indicator

import (
	"sync"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
)

// LED is a camera activity light on a GPIO pin, wired active-high:
// - lit while a session holds the camera
// - dark for the flash duration when a still is taken
// - two short flashes on a failure
//
// It implements session.Listener.
type LED struct {
	gpio  gpio.Driver
	pin   int
	flash time.Duration

	mu     sync.Mutex
	on     bool // camera open
	gen    int
	timers []*time.Timer
}

// NewLED configures pin as an output and switches the light off.
func NewLED(g gpio.Driver, pin int, flash time.Duration) (*LED, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &LED{gpio: g, pin: pin, flash: flash}, nil
}

// CameraOpened lights the LED.
func (l *LED) CameraOpened() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = true
	l.write(gpio.High)
}

// CameraClosed switches the LED off.
func (l *LED) CameraClosed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimers()
	l.on = false
	l.write(gpio.Low)
}

// ImageTaken blinks once.
func (l *LED) ImageTaken([]byte) {
	debug.Verbose("LED: snapshot flash (pin %d)", l.pin)
	l.blink(1)
}

// ImageFailed blinks twice.
func (l *LED) ImageFailed(err error, _ string) {
	debug.Verbose("LED: failure flash (pin %d): %v", l.pin, err)
	l.blink(2)
}

// Off stops pending flashes and leaves the LED dark.
func (l *LED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimers()
	l.on = false
	return l.gpio.WritePin(l.pin, gpio.Low)
}

// blink inverts the steady state n times, one flash period each, then
// restores it. It does not sleep; the flashes run on timers.
func (l *LED) blink(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimers()

	steady := gpio.Level(l.on)
	gen := l.gen
	l.write(!steady)
	for i := 1; i < 2*n; i++ {
		level := steady
		if i%2 == 0 {
			level = !steady
		}
		l.timers = append(l.timers, time.AfterFunc(time.Duration(i)*l.flash, func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if gen == l.gen {
				l.write(level)
			}
		}))
	}
}

func (l *LED) stopTimers() {
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.gen++
}

func (l *LED) write(level gpio.Level) {
	if err := l.gpio.WritePin(l.pin, level); err != nil {
		debug.Errorf(err, "LED: write pin %d", l.pin)
	}
}

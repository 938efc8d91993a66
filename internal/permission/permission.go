// Package permission decides whether the camera may be used on hosts with
// an authorization model.
package permission

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Static is a checker whose answer is set by configuration or by an
// operator, e.g. through the web API.
type Static struct {
	mu      sync.Mutex
	granted bool
}

// NewStatic creates a checker with the given initial answer.
func NewStatic(granted bool) *Static {
	return &Static{granted: granted}
}

// HasPermission implements session.PermissionChecker.
func (s *Static) HasPermission() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted
}

// RequestPermission implements session.PermissionChecker. There is no one
// to ask, so a refused permission stays refused.
func (s *Static) RequestPermission() error {
	if s.HasPermission() {
		return nil
	}
	debug.Info("Permission: camera access has not been granted")
	return session.ErrPermissionDenied
}

// Set grants or revokes access.
func (s *Static) Set(granted bool) {
	s.mu.Lock()
	s.granted = granted
	s.mu.Unlock()
	debug.Verbose("Permission: granted=%v", granted)
}

// Switch reads a physical privacy switch. The camera is allowed while the
// pin is at the enabled level.
type Switch struct {
	gpio    gpio.Driver
	pin     int
	enabled gpio.Level
}

// NewSwitch configures pin as an input with pull-up. With activeLow the
// camera is allowed while the switch pulls the pin to ground.
func NewSwitch(g gpio.Driver, pin int, activeLow bool) (*Switch, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("privacy switch on pin %d: %w", pin, err)
	}
	enabled := gpio.High
	if activeLow {
		enabled = gpio.Low
	}
	return &Switch{gpio: g, pin: pin, enabled: enabled}, nil
}

// HasPermission implements session.PermissionChecker. A read error counts
// as refused.
func (s *Switch) HasPermission() bool {
	level, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		debug.Errorf(err, "Permission: read privacy switch on pin %d", s.pin)
		return false
	}
	return level == s.enabled
}

// RequestPermission implements session.PermissionChecker.
func (s *Switch) RequestPermission() error {
	if s.HasPermission() {
		return nil
	}
	debug.Info("Permission: privacy switch on pin %d is off, turn it on to use the camera", s.pin)
	return session.ErrPermissionDenied
}

//go:build !linux

package v4l2

import "github.com/cjeanneret/snapgo/internal/hw/camera"

// Backend is unavailable outside Linux.
type Backend struct{}

// New always fails outside Linux.
func New(Options) (*Backend, error) {
	return nil, ErrUnsupported
}

// Legacy returns nil outside Linux.
func (b *Backend) Legacy() camera.LegacyAPI { return nil }

// Modern returns nil outside Linux.
func (b *Backend) Modern() camera.Manager { return nil }

package camera

import (
	"errors"
	"sync"

	"github.com/cjeanneret/snapgo/internal/session"
)

// ErrNoImage is returned by AcquireLatestImage when nothing is queued.
var ErrNoImage = errors.New("no image available")

// FrameReader is an ImageReader fed by a driver through Deliver.
// Only the most recent frame is kept.
type FrameReader struct {
	size session.Size

	mu       sync.Mutex
	latest   []byte
	err      error
	listener func(ImageReader)
	closed   bool
}

// NewFrameReader creates a reader for frames of the given size.
func NewFrameReader(size session.Size) *FrameReader {
	return &FrameReader{size: size}
}

// Size implements ImageReader.
func (r *FrameReader) Size() session.Size { return r.size }

// SetOnImageAvailable implements ImageReader.
func (r *FrameReader) SetOnImageAvailable(fn func(ImageReader)) {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
}

// AcquireLatestImage implements ImageReader. A delivery error is reported
// once, by the acquisition that follows it.
func (r *FrameReader) AcquireLatestImage() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		err := r.err
		r.err = nil
		return nil, err
	}
	if r.latest == nil {
		return nil, ErrNoImage
	}
	data := r.latest
	r.latest = nil
	return data, nil
}

// Close implements ImageReader. Later deliveries are discarded.
func (r *FrameReader) Close() {
	r.mu.Lock()
	r.closed = true
	r.listener = nil
	r.latest = nil
	r.mu.Unlock()
}

// Deliver hands a frame, or the error that replaced it, to the reader and
// notifies the listener.
func (r *FrameReader) Deliver(data []byte, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.err = err
	} else {
		r.latest = data
	}
	fn := r.listener
	r.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

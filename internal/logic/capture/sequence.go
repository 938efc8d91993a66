package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// eventBuffer is how many session events may queue up between waits.
const eventBuffer = 32

// DefaultStepTimeout bounds the wait for each session event.
const DefaultStepTimeout = 10 * time.Second

// Camera is the part of session.Session a sequence drives.
type Camera interface {
	Open(ctx context.Context) error
	TakeSnapshot() error
	Close() error
	Status(ctx context.Context) (session.Status, error)
}

// Store persists captured stills.
type Store interface {
	Save(data []byte) (string, error)
}

// Plan describes one sequence run.
type Plan struct {
	Count    int           // stills to take
	Interval time.Duration // pause between stills
	Timeout  time.Duration // per-step wait, DefaultStepTimeout if zero
}

// Result lists what a run produced.
type Result struct {
	Saved []string
}

// Sequence contains high-level logic for photo capture: open the camera,
// take a series of stills, save them and release the camera.
type Sequence struct {
	camera Camera
	store  Store
	events chan session.Event
}

// NewSequence creates a sequence. Its Listener must be registered on the
// session driving c.
func NewSequence(c Camera, store Store) *Sequence {
	return &Sequence{
		camera: c,
		store:  store,
		events: make(chan session.Event, eventBuffer),
	}
}

// Listener returns the session listener feeding the sequence.
func (s *Sequence) Listener() session.Listener {
	return session.EventFunc(s.deliver)
}

// deliver runs on the session queue and must not block.
func (s *Sequence) deliver(e session.Event) {
	select {
	case s.events <- e:
	default:
		debug.Verbose("Sequence: dropping %s event, nobody is waiting", e.Kind)
	}
}

// drain discards events left over from earlier activity.
func (s *Sequence) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// Run executes p. The camera is released before Run returns, also when it
// fails or ctx is cancelled.
func (s *Sequence) Run(ctx context.Context, p Plan) (Result, error) {
	var res Result
	if p.Count < 1 {
		return res, fmt.Errorf("invalid snapshot count %d", p.Count)
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultStepTimeout
	}

	debug.Section("Snapshot Sequence")
	debug.Value("Snapshots", p.Count)
	debug.Value("Interval", p.Interval)
	s.drain()

	debug.Live("Opening camera")
	if err := s.camera.Open(ctx); err != nil {
		return res, fmt.Errorf("open camera: %w", err)
	}
	if _, err := s.await(ctx, p.Timeout, session.EventOpened); err != nil {
		s.release(p.Timeout, err)
		return res, fmt.Errorf("open camera: %w", err)
	}

	for i := 0; i < p.Count; i++ {
		if i > 0 && p.Interval > 0 {
			select {
			case <-ctx.Done():
				s.release(p.Timeout, ctx.Err())
				return res, ctx.Err()
			case <-time.After(p.Interval):
			}
		}

		debug.Step(i+1, fmt.Sprintf("snapshot %d/%d", i+1, p.Count))
		if err := s.camera.TakeSnapshot(); err != nil {
			s.release(p.Timeout, err)
			return res, fmt.Errorf("snapshot %d: %w", i+1, err)
		}
		e, err := s.await(ctx, p.Timeout, session.EventImageCaptured)
		if err != nil {
			s.release(p.Timeout, err)
			return res, fmt.Errorf("snapshot %d: %w", i+1, err)
		}

		path, err := s.store.Save(e.Image)
		if err != nil {
			s.release(p.Timeout, err)
			return res, fmt.Errorf("save snapshot %d: %w", i+1, err)
		}
		res.Saved = append(res.Saved, path)
		debug.Info("Snapshot %d/%d saved to %s", i+1, p.Count, path)
	}

	debug.Live("Closing camera")
	if err := s.camera.Close(); err != nil {
		return res, fmt.Errorf("close camera: %w", err)
	}
	if _, err := s.await(context.Background(), p.Timeout, session.EventClosed); err != nil {
		return res, fmt.Errorf("close camera: %w", err)
	}
	return res, nil
}

// errClosed reports a camera that closed while a sequence still needed it.
var errClosed = errors.New("camera closed unexpectedly")

// await waits for an event of kind want. A failure event ends the wait
// with the failure's error.
func (s *Sequence) await(ctx context.Context, timeout time.Duration, want session.EventKind) (session.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return session.Event{}, ctx.Err()
		case <-timer.C:
			return session.Event{}, fmt.Errorf("timed out after %v waiting for %s", timeout, want)
		case e := <-s.events:
			switch {
			case e.Kind == want:
				return e, nil
			case e.Kind == session.EventFailed:
				debug.Verbose("Sequence: %s failure: %s", session.Reason(e.Err), e.Message)
				if e.Err == nil {
					return e, errors.New(e.Message)
				}
				return e, e.Err
			case e.Kind == session.EventClosed:
				return e, errClosed
			}
		}
	}
}

// release closes the camera after cause interrupted the run and waits for
// the session to confirm.
func (s *Sequence) release(timeout time.Duration, cause error) {
	if errors.Is(cause, errClosed) {
		return
	}
	debug.Verbose("Sequence: releasing camera after: %v", cause)
	if err := s.camera.Close(); err != nil {
		debug.Errorf(err, "Sequence: close camera")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := s.camera.Status(ctx)
	if err == nil && st.State == session.Closed && !st.Opening {
		// nothing was held, no confirmation will come
		return
	}
	if _, err := s.await(context.Background(), timeout, session.EventClosed); err != nil && !errors.Is(err, errClosed) {
		debug.Verbose("Sequence: no close confirmation: %v", err)
	}
}

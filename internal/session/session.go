package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/worker"
)

// PermissionChecker gates access to the camera on platforms with an
// authorization model.
type PermissionChecker interface {
	HasPermission() bool
	RequestPermission() error
}

// OrientationTracker reports the device orientation in degrees, or
// OrientationUnknown. The session enables it while the camera is open.
type OrientationTracker interface {
	CanDetect() bool
	Enable()
	Disable()
	Reading() int
}

// Session is the state machine for one exclusive camera.
//
// Open, TakeSnapshot and Close may be called from any goroutine. Their
// effect, and every adapter continuation, runs on a single worker queue, so
// the fields below the marker are only ever touched by that goroutine.
type Session struct {
	id       string
	adapter  Adapter
	queue    *worker.Queue
	ownQueue bool

	permission    PermissionChecker
	authorization bool
	orientation   OrientationTracker
	storageCheck  func() error

	// owned by the queue goroutine
	state    State
	pending  pending
	device   *DeviceInfo
	listener Listener
	epoch    uint64
	seq      uint64
}

// Option configures a Session.
type Option func(*Session)

// WithPermission sets the permission collaborator.
func WithPermission(p PermissionChecker) Option {
	return func(s *Session) { s.permission = p }
}

// WithAuthorizationModel enables the permission check in Open. Without it
// the platform has no runtime authorization and the check is skipped.
func WithAuthorizationModel(enabled bool) Option {
	return func(s *Session) { s.authorization = enabled }
}

// WithOrientation sets the orientation tracker used for JPEG rotation.
func WithOrientation(t OrientationTracker) Option {
	return func(s *Session) { s.orientation = t }
}

// WithStorageCheck sets a probe run when an image arrives. A non-nil error
// turns the capture into an ErrStorageUnavailable failure.
func WithStorageCheck(check func() error) Option {
	return func(s *Session) { s.storageCheck = check }
}

// WithListener registers the initial listener.
func WithListener(l Listener) Option {
	return func(s *Session) { s.listener = l }
}

// WithQueue runs the session on an existing queue instead of its own.
// Shutdown does not close a shared queue.
func WithQueue(q *worker.Queue) Option {
	return func(s *Session) { s.queue = q }
}

// New creates a closed session around adapter.
func New(adapter Adapter, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		adapter: adapter,
		state:   Closed,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = worker.New("camera-" + s.id[:8])
		s.ownQueue = true
	}
	debug.Info("Camera session %s created (%s driver)", s.id, adapter.Generation())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Generation returns the driver generation of the underlying adapter.
func (s *Session) Generation() Generation {
	return s.adapter.Generation()
}

// Open requests the front-facing camera. It fails synchronously with
// ErrAlreadyOpen, ErrPermissionDenied or ErrNoCamera; the outcome of the
// open itself is reported to the listener (Opened, or Failed).
//
// A ctx that is done before the request reaches the queue cancels it and
// Open returns ctx.Err(). Once the request has started, Open reports its
// outcome whatever happens to ctx.
func (s *Session) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res := make(chan error, 1)
	err := s.queue.Post(func() {
		if err := ctx.Err(); err != nil {
			res <- err
			return
		}
		res <- s.open()
	})
	if err != nil {
		return s.queueErr(err)
	}
	return <-res
}

// TakeSnapshot requests one still image. Requests arriving while a capture
// is in flight are coalesced into a single follow-up capture; requests on a
// closed camera are dropped.
func (s *Session) TakeSnapshot() error {
	return s.queueErr(s.queue.Post(s.takeSnapshot))
}

// Close releases the camera. A close requested during a capture is applied
// as soon as that capture completes.
func (s *Session) Close() error {
	return s.queueErr(s.queue.Post(s.close))
}

// SetListener replaces the listener. nil disables notifications.
func (s *Session) SetListener(l Listener) error {
	return s.queueErr(s.queue.Post(func() { s.listener = l }))
}

// RequestPermission asks the permission collaborator for camera access.
// It does nothing on platforms without an authorization model.
func (s *Session) RequestPermission() error {
	if !s.authorization || s.permission == nil {
		return nil
	}
	if s.permission.HasPermission() {
		return nil
	}
	return s.permission.RequestPermission()
}

// Status is a point-in-time view of the session.
type Status struct {
	ID             string
	Generation     Generation
	State          State
	Opening        bool
	PendingCapture bool
	PendingClose   bool
	Device         *DeviceInfo
}

// Status reads the session status from the worker queue.
func (s *Session) Status(ctx context.Context) (Status, error) {
	res := make(chan Status, 1)
	err := s.queue.Do(ctx, func() {
		st := Status{
			ID:             s.id,
			Generation:     s.adapter.Generation(),
			State:          s.state,
			Opening:        s.pending.opening,
			PendingCapture: s.pending.capture,
			PendingClose:   s.pending.close,
		}
		if s.device != nil {
			d := *s.device
			d.Sizes = append([]Size(nil), s.device.Sizes...)
			st.Device = &d
		}
		res <- st
	})
	if err != nil {
		return Status{}, s.queueErr(err)
	}
	return <-res, nil
}

// State returns the current lifecycle state.
func (s *Session) State(ctx context.Context) (State, error) {
	st, err := s.Status(ctx)
	return st.State, err
}

// Shutdown releases the camera whatever its state and stops the worker
// queue. Continuations arriving afterwards are dropped.
func (s *Session) Shutdown(ctx context.Context) error {
	err := s.queue.Do(ctx, func() {
		if s.state != Closed || s.pending.opening || s.device != nil {
			s.closeSequence()
		}
	})
	if err != nil && !errors.Is(err, worker.ErrClosed) {
		return err
	}
	if s.ownQueue {
		s.queue.Close()
	}
	debug.Info("Camera session %s shut down", s.id)
	return nil
}

func (s *Session) queueErr(err error) error {
	if errors.Is(err, worker.ErrClosed) {
		return ErrShutdown
	}
	return err
}

// post schedules a continuation on the worker queue.
func (s *Session) post(fn func()) {
	if err := s.queue.Post(fn); err != nil {
		debug.Verbose("Session %s: continuation dropped: %v", s.id, err)
	}
}

// --- worker-side state machine ---

func (s *Session) open() error {
	if s.state != Closed || s.pending.opening {
		return ErrAlreadyOpen
	}
	if s.authorization && s.permission != nil && !s.permission.HasPermission() {
		debug.Info("Session %s: camera permission not granted", s.id)
		return ErrPermissionDenied
	}

	debug.Live("Session %s: opening camera", s.id)
	s.pending.reset()
	s.pending.opening = true
	epoch := s.epoch
	err := s.adapter.RequestOpen(
		func(info DeviceInfo) { s.post(func() { s.opened(epoch, info) }) },
		func(err error) { s.post(func() { s.failed(epoch, err) }) },
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoCamera) {
		s.closeSequence()
		return err
	}
	s.fail(err)
	return nil
}

func (s *Session) opened(epoch uint64, info DeviceInfo) {
	if epoch != s.epoch || !s.pending.opening {
		debug.Verbose("Session %s: ignoring stale open completion", s.id)
		return
	}
	s.pending.opening = false
	s.device = &info
	if s.orientation != nil && s.orientation.CanDetect() {
		s.orientation.Enable()
	}
	debug.Info("Camera %s opened (%d sizes, sensor %d°)", info.ID, len(info.Sizes), info.SensorOrientation)
	s.emit(Event{Kind: EventOpened})
	s.setState(Open)
	s.settle()
}

func (s *Session) takeSnapshot() {
	switch {
	case s.state == Open:
		s.capture()
	case s.pending.busy(s.state):
		s.pending.capture = true
		debug.Verbose("Session %s: snapshot buffered (%s)", s.id, s.state)
	default:
		debug.Verbose("Session %s: snapshot dropped, camera closed", s.id)
	}
}

func (s *Session) close() {
	switch {
	case s.state == Open:
		s.closeSequence()
	case s.pending.busy(s.state):
		s.pending.close = true
		debug.Verbose("Session %s: close deferred (%s)", s.id, s.state)
	default:
		debug.Verbose("Session %s: close ignored, camera already closed", s.id)
	}
}

// capture issues one exposure. Only called in Open.
func (s *Session) capture() {
	s.pending.capture = false

	size, _ := Largest(s.device.Sizes)
	reading := OrientationUnknown
	if s.orientation != nil {
		reading = s.orientation.Reading()
	}
	req := CaptureRequest{
		Size:     size,
		Rotation: s.adapter.Generation().JPEGRotation(s.device.SensorOrientation, reading),
	}

	s.seq++
	epoch, seq := s.epoch, s.seq
	s.setState(Capturing)
	debug.Verbose("Session %s: capture #%d size=%s rotation=%d", s.id, seq, req.Size, req.Rotation)
	s.adapter.RequestCapture(req,
		func(data []byte) { s.post(func() { s.imageReady(epoch, seq, data) }) },
		func(err error) { s.post(func() { s.failed(epoch, err) }) },
	)
}

func (s *Session) imageReady(epoch, seq uint64, data []byte) {
	if epoch != s.epoch || seq != s.seq || s.state != Capturing {
		debug.Verbose("Session %s: ignoring stale image", s.id)
		return
	}
	if s.storageCheck != nil {
		if err := s.storageCheck(); err != nil {
			if !errors.Is(err, ErrStorageUnavailable) {
				err = Fail(ErrStorageUnavailable, err, "no access to storage")
			}
			s.fail(err)
			return
		}
	}
	s.emit(Event{Kind: EventImageCaptured, Image: data})
	s.setState(Open)
	s.settle()
}

// settle applies buffered requests once the session is Open again.
func (s *Session) settle() {
	switch s.pending.next() {
	case followClose:
		s.closeSequence()
	case followCapture:
		s.capture()
	}
}

func (s *Session) failed(epoch uint64, err error) {
	if epoch != s.epoch {
		debug.Verbose("Session %s: ignoring failure after close: %v", s.id, err)
		return
	}
	s.fail(err)
}

// fail reports err and forces the close sequence.
func (s *Session) fail(err error) {
	debug.Errorf(err, "Session %s", s.id)
	s.emit(Event{Kind: EventFailed, Err: err, Message: message(err)})
	s.closeSequence()
}

func (s *Session) closeSequence() {
	if s.orientation != nil && s.orientation.CanDetect() {
		s.orientation.Disable()
	}
	s.adapter.RequestClose()

	held := s.device != nil
	s.device = nil
	s.pending.reset()
	s.epoch++
	s.setState(Closed)
	if held {
		debug.Info("Camera closed")
		s.emit(Event{Kind: EventClosed})
	}
}

func (s *Session) setState(to State) {
	if s.state == to {
		return
	}
	debug.Transition(s.id, s.state, to)
	s.state = to
}

func (s *Session) emit(e Event) {
	e.SessionID = s.id
	e.Time = time.Now()
	debug.Event(s.id, e.Kind.String())
	if s.listener != nil {
		dispatch(s.listener, e)
	}
}

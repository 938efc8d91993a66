package session

import "time"

// EventKind tags an Event.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventClosed
	EventImageCaptured
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventImageCaptured:
		return "image_captured"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a single notification from a session. Image is set for
// EventImageCaptured, Err and Message for EventFailed.
type Event struct {
	Kind      EventKind
	SessionID string
	Time      time.Time
	Image     []byte
	Err       error
	Message   string
}

// Listener observes a session. All methods run on the session's worker
// goroutine, one at a time; implementations must not block.
type Listener interface {
	CameraOpened()
	CameraClosed()
	ImageTaken(data []byte)
	ImageFailed(err error, message string)
}

// EventFunc adapts a function receiving Events to the Listener interface.
// SessionID and Time are filled in by the session before dispatch.
type EventFunc func(Event)

func (f EventFunc) CameraOpened()       { f(Event{Kind: EventOpened}) }
func (f EventFunc) CameraClosed()       { f(Event{Kind: EventClosed}) }
func (f EventFunc) ImageTaken(b []byte) { f(Event{Kind: EventImageCaptured, Image: b}) }

func (f EventFunc) ImageFailed(err error, msg string) {
	f(Event{Kind: EventFailed, Err: err, Message: msg})
}

// eventSink is implemented by listeners that want the full Event, including
// session metadata. EventFunc and Listeners implement it.
type eventSink interface {
	handle(Event)
}

func (f EventFunc) handle(e Event) { f(e) }

// Listeners fans every event out to each listener in order.
type Listeners []Listener

func (ls Listeners) CameraOpened()                     { ls.handle(Event{Kind: EventOpened}) }
func (ls Listeners) CameraClosed()                     { ls.handle(Event{Kind: EventClosed}) }
func (ls Listeners) ImageTaken(b []byte)               { ls.handle(Event{Kind: EventImageCaptured, Image: b}) }
func (ls Listeners) ImageFailed(err error, msg string) { ls.handle(Event{Kind: EventFailed, Err: err, Message: msg}) }

func (ls Listeners) handle(e Event) {
	for _, l := range ls {
		if l != nil {
			dispatch(l, e)
		}
	}
}

// dispatch delivers e to l through the richest interface l supports.
func dispatch(l Listener, e Event) {
	if s, ok := l.(eventSink); ok {
		s.handle(e)
		return
	}
	switch e.Kind {
	case EventOpened:
		l.CameraOpened()
	case EventClosed:
		l.CameraClosed()
	case EventImageCaptured:
		l.ImageTaken(e.Image)
	case EventFailed:
		l.ImageFailed(e.Err, e.Message)
	}
}

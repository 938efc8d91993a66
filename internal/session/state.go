package session

// State is the lifecycle state of a camera session.
type State int

const (
	Closed State = iota
	Open
	Capturing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// pending is the extended state buffered next to State.
//
// opening is set between a successful Open call and the adapter's "opened"
// continuation. capture and close hold requests that arrived while the
// session could not act on them (opening, or a capture in flight).
//
// Precedence when the session becomes free: close first, then capture.
// A pending close therefore swallows any coalesced capture.
type pending struct {
	opening bool
	capture bool
	close   bool
}

func (p *pending) reset() {
	*p = pending{}
}

// busy reports whether requests must be buffered rather than applied.
func (p pending) busy(s State) bool {
	return s == Capturing || (s == Closed && p.opening)
}

type followUp int

const (
	followNone followUp = iota
	followClose
	followCapture
)

// next returns the buffered action to run once the session settles in Open.
func (p pending) next() followUp {
	switch {
	case p.close:
		return followClose
	case p.capture:
		return followCapture
	default:
		return followNone
	}
}

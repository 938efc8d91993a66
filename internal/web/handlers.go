package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/logic/capture"
	"github.com/cjeanneret/snapgo/internal/session"
	"github.com/cjeanneret/snapgo/internal/storage"
)

// MaxSequenceCount bounds the stills of one web-triggered sequence.
const MaxSequenceCount = 1000

// maxBodyBytes limits request bodies.
const maxBodyBytes = 1 << 20

// Camera is the session surface exposed over HTTP.
type Camera interface {
	Open(ctx context.Context) error
	TakeSnapshot() error
	Close() error
	RequestPermission() error
	Status(ctx context.Context) (session.Status, error)
}

// Snapshots gives access to saved stills.
type Snapshots interface {
	Latest() (string, error)
}

// RunSequenceFunc runs a snapshot sequence.
// It is called from the POST /sequence handler in a goroutine.
type RunSequenceFunc func(ctx context.Context, p capture.Plan) (capture.Result, error)

// SequenceRequest holds sequence parameters that can override config defaults.
type SequenceRequest struct {
	Count      int `json:"count"`
	IntervalMs int `json:"interval_ms"`
}

// ValidateSequenceRequest checks the bounds of a sequence request.
func ValidateSequenceRequest(r SequenceRequest) error {
	if r.Count < 1 || r.Count > MaxSequenceCount {
		return fmt.Errorf("count must be between 1 and %d", MaxSequenceCount)
	}
	if r.IntervalMs < 0 || r.IntervalMs > int(time.Hour/time.Millisecond) {
		return errors.New("interval_ms must be between 0 and 3600000")
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	Snapshots   Snapshots
	RunSequence RunSequenceFunc
	Defaults    SequenceRequest

	runningMu sync.Mutex
	running   bool
	// baseCtx is cancelled on server shutdown to stop running sequences.
	baseCtx context.Context
}

// NewHandlers creates handlers with the given dependencies.
// If runSequence is nil, POST /sequence will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, snaps Snapshots, runSequence RunSequenceFunc, defaults SequenceRequest) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Camera:      cam,
		Snapshots:   snaps,
		RunSequence: runSequence,
		Defaults:    defaults,
		baseCtx:     context.Background(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps session errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrAlreadyOpen):
		code = http.StatusConflict
	case errors.Is(err, session.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, session.ErrNoCamera):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrShutdown):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"error":  err.Error(),
		"reason": session.Reason(err),
	})
}

// HandleOpen handles POST /camera/open. The outcome is published on the
// event streams.
func (h *Handlers) HandleOpen(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.Open(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "opening"})
}

// HandleSnapshot handles POST /camera/snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.TakeSnapshot(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// HandleClose handles POST /camera/close.
func (h *Handlers) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.Close(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing"})
}

// HandlePermission handles POST /camera/permission.
func (h *Handlers) HandlePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.RequestPermission(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// stateResponse is the JSON form of session.Status.
type stateResponse struct {
	ID             string          `json:"id"`
	Generation     string          `json:"generation"`
	State          string          `json:"state"`
	Opening        bool            `json:"opening"`
	PendingCapture bool            `json:"pending_capture"`
	PendingClose   bool            `json:"pending_close"`
	Device         *deviceResponse `json:"device,omitempty"`
	Sequence       bool            `json:"sequence_running"`
}

type deviceResponse struct {
	ID                string   `json:"id"`
	SensorOrientation int      `json:"sensor_orientation"`
	Sizes             []string `json:"sizes"`
}

// HandleState handles GET /camera/state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := h.Camera.Status(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := stateResponse{
		ID:             st.ID,
		Generation:     st.Generation.String(),
		State:          st.State.String(),
		Opening:        st.Opening,
		PendingCapture: st.PendingCapture,
		PendingClose:   st.PendingClose,
		Sequence:       h.isRunning(),
	}
	if st.Device != nil {
		d := &deviceResponse{ID: st.Device.ID, SensorOrientation: st.Device.SensorOrientation}
		for _, s := range st.Device.Sizes {
			d.Sizes = append(d.Sizes, s.String())
		}
		resp.Device = d
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLatest handles GET /snapshots/latest and serves the last still.
func (h *Handlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}
	path, err := h.Snapshots.Latest()
	if errors.Is(err, storage.ErrNoSnapshots) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

// HandleConfig returns the sequence default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Defaults)
}

func (h *Handlers) isRunning() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// HandleSequence handles POST /sequence to start a snapshot sequence.
// An empty body uses the configured defaults.
func (h *Handlers) HandleSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := h.Defaults
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if err := ValidateSequenceRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.RunSequence == nil {
		http.Error(w, "sequence not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "sequence already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	plan := capture.Plan{Count: req.Count, Interval: time.Duration(req.IntervalMs) * time.Millisecond}

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		res, err := h.RunSequence(h.baseCtx, plan)
		if err != nil {
			h.Broadcaster.Broadcast("error", "Sequence failed: "+err.Error())
			debug.Errorf(err, "sequence failed")
			return
		}
		h.Broadcaster.Broadcast("info", fmt.Sprintf("Sequence complete: %d snapshots saved", len(res.Saved)))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleEventsWS handles GET /events/ws; it carries the same messages as
// the SSE stream over a WebSocket.
func (h *Handlers) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		debug.Verbose("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				debug.Verbose("websocket write: %v", err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

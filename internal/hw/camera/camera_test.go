package camera_test

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/hw/simcam"
	"github.com/cjeanneret/snapgo/internal/session"
	"github.com/cjeanneret/snapgo/internal/worker"
)

const wait = 2 * time.Second

func newQueue(t *testing.T) *worker.Queue {
	t.Helper()
	q := worker.New("camera-test")
	t.Cleanup(q.Close)
	return q
}

func onQueue(t *testing.T, q *worker.Queue, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, q.Do(ctx, fn))
}

// results collects adapter continuations.
type results struct {
	opened chan session.DeviceInfo
	images chan []byte
	failed chan error
}

func newResults() *results {
	return &results{
		opened: make(chan session.DeviceInfo, 4),
		images: make(chan []byte, 4),
		failed: make(chan error, 4),
	}
}

func (r *results) onOpened(info session.DeviceInfo) { r.opened <- info }
func (r *results) onImage(b []byte)                 { r.images <- b }
func (r *results) onFailed(err error)               { r.failed <- err }

func (r *results) waitOpened(t *testing.T) session.DeviceInfo {
	t.Helper()
	select {
	case info := <-r.opened:
		return info
	case err := <-r.failed:
		t.Fatalf("open failed: %v", err)
	case <-time.After(wait):
		t.Fatal("timed out waiting for open")
	}
	return session.DeviceInfo{}
}

func (r *results) waitImage(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-r.images:
		return b
	case err := <-r.failed:
		t.Fatalf("capture failed: %v", err)
	case <-time.After(wait):
		t.Fatal("timed out waiting for image")
	}
	return nil
}

func (r *results) waitFailed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.failed:
		return err
	case <-r.opened:
		t.Fatal("unexpected open")
	case <-r.images:
		t.Fatal("unexpected image")
	case <-time.After(wait):
		t.Fatal("timed out waiting for failure")
	}
	return nil
}

// requestOpen issues RequestOpen on the queue, as the session does.
func requestOpen(t *testing.T, q *worker.Queue, a session.Adapter, r *results) {
	t.Helper()
	var err error
	onQueue(t, q, func() { err = a.RequestOpen(r.onOpened, r.onFailed) })
	require.NoError(t, err)
}

func jpegBounds(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestLegacy_OpenCaptureClose(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	assert.Equal(t, session.Legacy, a.Generation())

	requestOpen(t, q, a, r)
	info := r.waitOpened(t)
	assert.Equal(t, "1", info.ID)
	assert.Equal(t, 270, info.SensorOrientation)
	assert.Len(t, info.Sizes, 3)
	assert.Equal(t, 1, b.Stats().OpenNow)

	onQueue(t, q, func() {
		a.RequestCapture(session.CaptureRequest{Size: session.Size{Width: 1600, Height: 1200}, Rotation: 90}, r.onImage, r.onFailed)
	})
	w, h := jpegBounds(t, r.waitImage(t))
	assert.Equal(t, 48, w)
	assert.Equal(t, 64, h)

	onQueue(t, q, a.RequestClose)
	st := b.Stats()
	assert.Equal(t, 0, st.OpenNow)
	assert.Equal(t, 1, st.Releases)
}

func TestLegacy_NoFrontCamera(t *testing.T) {
	b := simcam.New(simcam.Options{Cameras: []simcam.Camera{
		{Facing: camera.FacingBack, Sizes: []session.Size{{Width: 640, Height: 480}}},
	}})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	var err error
	onQueue(t, q, func() { err = a.RequestOpen(r.onOpened, r.onFailed) })
	assert.ErrorIs(t, err, session.ErrNoCamera)
}

func TestLegacy_OpenFailure(t *testing.T) {
	b := simcam.New(simcam.Options{Faults: simcam.Faults{Open: true}})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	requestOpen(t, q, a, r)
	err := r.waitFailed(t)
	assert.ErrorIs(t, err, session.ErrDeviceDisconnected)
	assert.ErrorIs(t, err, simcam.ErrInjected)
}

func TestLegacy_PreviewFailure(t *testing.T) {
	b := simcam.New(simcam.Options{Faults: simcam.Faults{Configure: true}})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	requestOpen(t, q, a, r)
	assert.ErrorIs(t, r.waitFailed(t), session.ErrConfigurationFailed)

	// the device was acquired before the preview failed
	onQueue(t, q, a.RequestClose)
	assert.Equal(t, 0, b.Stats().OpenNow)
}

func TestLegacy_CaptureFailure(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	requestOpen(t, q, a, r)
	r.waitOpened(t)

	b.SetFaults(simcam.Faults{Capture: true})
	onQueue(t, q, func() { a.RequestCapture(session.CaptureRequest{}, r.onImage, r.onFailed) })
	assert.ErrorIs(t, r.waitFailed(t), session.ErrCaptureRequestFailed)
}

func TestLegacy_PictureAfterCloseIsDropped(t *testing.T) {
	b := simcam.New(simcam.Options{Latency: 20 * time.Millisecond})
	q := newQueue(t)
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	requestOpen(t, q, a, r)
	r.waitOpened(t)

	onQueue(t, q, func() {
		a.RequestCapture(session.CaptureRequest{}, r.onImage, r.onFailed)
		a.RequestClose()
	})

	require.Eventually(t, func() bool { return b.Stats().Captures == 1 }, wait, 5*time.Millisecond)
	onQueue(t, q, func() {})
	assert.Empty(t, r.images)
	assert.Empty(t, r.failed)
}

func TestLegacy_PictureAfterQueueClosedIsDropped(t *testing.T) {
	b := simcam.New(simcam.Options{Latency: 20 * time.Millisecond})
	q := worker.New("camera-test")
	a := camera.NewLegacy(b.Legacy(), q, camera.LegacyOptions{})
	r := newResults()

	requestOpen(t, q, a, r)
	r.waitOpened(t)

	onQueue(t, q, func() { a.RequestCapture(session.CaptureRequest{}, r.onImage, r.onFailed) })
	q.Close()

	require.Eventually(t, func() bool { return b.Stats().Captures == 1 }, wait, 5*time.Millisecond)
	assert.Empty(t, r.images)
	assert.Empty(t, r.failed)
}

// paramsAPI is a single front camera that records picture parameters.
type paramsAPI struct {
	mu  sync.Mutex
	set []camera.LegacyParameters
}

func (p *paramsAPI) NumberOfCameras() int { return 1 }

func (p *paramsAPI) CameraInfo(int) (camera.LegacyInfo, error) {
	return camera.LegacyInfo{Facing: camera.FacingFront, Orientation: 90}, nil
}

func (p *paramsAPI) Open(int) (camera.LegacyDevice, error) { return p, nil }

func (p *paramsAPI) Parameters() camera.LegacyParameters {
	return camera.LegacyParameters{PictureSizes: []session.Size{{Width: 1600, Height: 1200}}}
}

func (p *paramsAPI) SetParameters(params camera.LegacyParameters) error {
	p.mu.Lock()
	p.set = append(p.set, params)
	p.mu.Unlock()
	return nil
}

func (p *paramsAPI) StartPreview() error { return nil }
func (p *paramsAPI) StopPreview()        {}
func (p *paramsAPI) Release()            {}

func (p *paramsAPI) TakePicture(cb func([]byte, error)) error {
	go cb([]byte{0xff, 0xd8}, nil)
	return nil
}

func (p *paramsAPI) last() camera.LegacyParameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set[len(p.set)-1]
}

func TestLegacy_PictureSizeOrientation(t *testing.T) {
	tests := []struct {
		name      string
		landscape bool
		want      session.Size
	}{
		{"portrait", false, session.Size{Width: 1600, Height: 1200}},
		{"landscape", true, session.Size{Width: 1200, Height: 1600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &paramsAPI{}
			q := newQueue(t)
			a := camera.NewLegacy(api, q, camera.LegacyOptions{Landscape: tt.landscape})
			r := newResults()

			requestOpen(t, q, a, r)
			r.waitOpened(t)
			onQueue(t, q, func() {
				a.RequestCapture(session.CaptureRequest{Size: session.Size{Width: 1600, Height: 1200}, Rotation: 270}, r.onImage, r.onFailed)
			})
			r.waitImage(t)

			got := api.last()
			assert.Equal(t, tt.want, got.PictureSize)
			assert.Equal(t, 270, got.Rotation)
		})
	}
}

func TestModern_OpenCaptureClose(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	assert.Equal(t, session.Modern, a.Generation())

	requestOpen(t, q, a, r)
	info := r.waitOpened(t)
	assert.Equal(t, "1", info.ID)
	assert.Equal(t, 270, info.SensorOrientation)
	assert.Equal(t, 1, b.Stats().OpenNow)

	onQueue(t, q, func() {
		a.RequestCapture(session.CaptureRequest{Size: session.Size{Width: 1600, Height: 1200}, Rotation: 0}, r.onImage, r.onFailed)
	})
	w, h := jpegBounds(t, r.waitImage(t))
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	// a second capture on the same configured session
	onQueue(t, q, func() {
		a.RequestCapture(session.CaptureRequest{Rotation: 270}, r.onImage, r.onFailed)
	})
	w, h = jpegBounds(t, r.waitImage(t))
	assert.Equal(t, 48, w)
	assert.Equal(t, 64, h)

	onQueue(t, q, a.RequestClose)
	st := b.Stats()
	assert.Equal(t, 0, st.OpenNow)
	assert.Equal(t, 1, st.Releases)
	assert.Equal(t, 1, st.MaxConcurrent)
}

func TestModern_SkipsFrontCameraWithoutSizes(t *testing.T) {
	b := simcam.New(simcam.Options{Cameras: []simcam.Camera{
		{Facing: camera.FacingFront, Orientation: 90},
		{Facing: camera.FacingFront, Orientation: 270, Sizes: []session.Size{{Width: 800, Height: 600}}},
	}})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	requestOpen(t, q, a, r)
	info := r.waitOpened(t)
	assert.Equal(t, "1", info.ID)
	assert.Equal(t, 270, info.SensorOrientation)
}

func TestModern_OpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		cameras []simcam.Camera
		want    error
	}{
		{
			name:    "no front camera",
			cameras: []simcam.Camera{{Facing: camera.FacingBack, Sizes: []session.Size{{Width: 640, Height: 480}}}},
			want:    session.ErrNoCamera,
		},
		{
			name:    "no cameras",
			cameras: []simcam.Camera{},
			want:    session.ErrNoCamera,
		},
		{
			name:    "front camera without sizes",
			cameras: []simcam.Camera{{Facing: camera.FacingFront}},
			want:    session.ErrConfigurationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := simcam.New(simcam.Options{Cameras: tt.cameras})
			q := newQueue(t)
			a := camera.NewModern(b.Modern(), q)
			r := newResults()

			var err error
			onQueue(t, q, func() { err = a.RequestOpen(r.onOpened, r.onFailed) })
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, b.Stats().Opens)
		})
	}
}

func TestModern_DeviceError(t *testing.T) {
	b := simcam.New(simcam.Options{Faults: simcam.Faults{Open: true}})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	requestOpen(t, q, a, r)
	assert.ErrorIs(t, r.waitFailed(t), session.ErrDeviceDisconnected)
	onQueue(t, q, a.RequestClose)
}

func TestModern_ConfigureFailure(t *testing.T) {
	b := simcam.New(simcam.Options{Faults: simcam.Faults{Configure: true}})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	requestOpen(t, q, a, r)
	assert.ErrorIs(t, r.waitFailed(t), session.ErrConfigurationFailed)
	assert.Equal(t, 1, b.Stats().OpenNow)

	onQueue(t, q, a.RequestClose)
	assert.Equal(t, 0, b.Stats().OpenNow)
}

func TestModern_CaptureFailure(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	requestOpen(t, q, a, r)
	r.waitOpened(t)

	b.SetFaults(simcam.Faults{Capture: true})
	onQueue(t, q, func() { a.RequestCapture(session.CaptureRequest{}, r.onImage, r.onFailed) })
	assert.ErrorIs(t, r.waitFailed(t), session.ErrCaptureRequestFailed)
}

func TestModern_CaptureWhenClosed(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	onQueue(t, q, func() { a.RequestCapture(session.CaptureRequest{}, r.onImage, r.onFailed) })
	assert.ErrorIs(t, r.waitFailed(t), session.ErrCaptureRequestFailed)
}

func TestModern_StaleOpenIsReleased(t *testing.T) {
	b := simcam.New(simcam.Options{Latency: 20 * time.Millisecond})
	q := newQueue(t)
	a := camera.NewModern(b.Modern(), q)
	r := newResults()

	var err error
	onQueue(t, q, func() {
		err = a.RequestOpen(r.onOpened, r.onFailed)
		a.RequestClose()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := b.Stats()
		return st.Opens == 1 && st.OpenNow == 0
	}, wait, 5*time.Millisecond)
	onQueue(t, q, func() {})
	assert.Empty(t, r.opened)
	assert.Empty(t, r.failed)
}

func TestSelect(t *testing.T) {
	b := simcam.New(simcam.Options{})
	q := newQueue(t)
	backends := camera.Backends{Legacy: b.Legacy(), Modern: b.Modern()}

	a, err := camera.Select(camera.Platform{Level: 19}, backends, q, camera.LegacyOptions{})
	require.NoError(t, err)
	assert.IsType(t, &camera.LegacyAdapter{}, a)
	assert.Equal(t, session.Legacy, a.Generation())

	a, err = camera.Select(camera.Platform{Level: camera.ModernLevel}, backends, q, camera.LegacyOptions{})
	require.NoError(t, err)
	assert.IsType(t, &camera.ModernAdapter{}, a)
	assert.Equal(t, session.Modern, a.Generation())

	_, err = camera.Select(camera.Platform{Level: 30}, camera.Backends{Legacy: b.Legacy()}, q, camera.LegacyOptions{})
	assert.Error(t, err)
	_, err = camera.Select(camera.Platform{Level: 10}, camera.Backends{Modern: b.Modern()}, q, camera.LegacyOptions{})
	assert.Error(t, err)
}

func TestSession_EndToEnd(t *testing.T) {
	for _, level := range []int{19, 28} {
		b := simcam.New(simcam.Options{Latency: time.Millisecond})
		q := newQueue(t)
		a, err := camera.Select(camera.Platform{Level: level}, camera.Backends{Legacy: b.Legacy(), Modern: b.Modern()}, q, camera.LegacyOptions{})
		require.NoError(t, err)

		events := make(chan session.Event, 8)
		s := session.New(a, session.WithQueue(q), session.WithListener(session.EventFunc(func(e session.Event) { events <- e })))

		next := func() session.Event {
			select {
			case e := <-events:
				return e
			case <-time.After(wait):
				t.Fatal("timed out waiting for event")
			}
			return session.Event{}
		}

		require.NoError(t, s.Open(context.Background()))
		require.Equal(t, session.EventOpened, next().Kind)
		require.NoError(t, s.TakeSnapshot())
		e := next()
		require.Equal(t, session.EventImageCaptured, e.Kind, "level %d: %v", level, e.Err)
		assert.NotEmpty(t, e.Image)
		require.NoError(t, s.Close())
		require.Equal(t, session.EventClosed, next().Kind)
		assert.Equal(t, 0, b.Stats().OpenNow)
	}
}

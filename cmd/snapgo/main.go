package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
	"github.com/cjeanneret/snapgo/internal/hw/indicator"
	"github.com/cjeanneret/snapgo/internal/hw/simcam"
	"github.com/cjeanneret/snapgo/internal/hw/v4l2"
	"github.com/cjeanneret/snapgo/internal/logic/capture"
	"github.com/cjeanneret/snapgo/internal/orientation"
	"github.com/cjeanneret/snapgo/internal/permission"
	"github.com/cjeanneret/snapgo/internal/session"
	"github.com/cjeanneret/snapgo/internal/storage"
	"github.com/cjeanneret/snapgo/internal/web"
	"github.com/cjeanneret/snapgo/internal/worker"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{}
	flag.Var(webPort, "web", "start web server on port; -web= for the configured default port, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	envPath := flag.String("env", ".env", "path to an optional .env file with SNAPGO_* overrides")
	count := flag.Int("count", 0, "override number of snapshots (1-1000)")
	interval := flag.Duration("interval", 0, "override delay between snapshots, e.g. 2s")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("load env file failed: %v", err)
	}
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*count, *interval); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{Count: *count, Interval: *interval})
	webPort.defaultPort = cfg.Defaults.WebPort

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, webPort.port()); err != nil {
		cancel()
		log.Fatalf("snapgo: %v", err)
	}
}

// run builds the camera stack from cfg, then serves the web API on port, or
// takes one sequence when port is 0. It releases all hardware before returning.
func run(ctx context.Context, cfg *config.Config, port int) error {
	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing permission and orientation")
	perm, err := newPermissionFromConfig(gpioDriver, cfg)
	if err != nil {
		return fmt.Errorf("init permission: %w", err)
	}
	debug.Value("Permission model", cfg.Permission.Model)
	tracker := newOrientationFromConfig(cfg)
	debug.Value("Orientation source", cfg.Orientation.Source)

	debug.Step(3, "Initializing camera")
	queue := worker.New("camera")
	defer queue.Close()
	adapter, err := newAdapterFromConfig(cfg, queue)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}
	debug.PrintStruct("Camera config", cfg.Camera)

	debug.Step(4, "Initializing storage and indicator")
	saver := storage.New(cfg.Storage.Dir)
	defer saver.Wait()
	debug.Value("Storage dir", saver.Dir())
	led, err := newIndicatorFromConfig(gpioDriver, cfg)
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	if led != nil {
		defer led.Off()
	}

	opts := []session.Option{
		session.WithQueue(queue),
		session.WithAuthorizationModel(cfg.AuthorizationModel()),
		session.WithStorageCheck(saver.Available),
	}
	if perm != nil {
		opts = append(opts, session.WithPermission(perm))
	}
	if tracker != nil {
		opts = append(opts, session.WithOrientation(tracker))
	}
	sess := session.New(adapter, opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Shutdown(shutdownCtx); err != nil {
			log.Printf("camera shutdown failed: %v", err)
		}
	}()

	seq := capture.NewSequence(sess, saver)
	runSequence := func(ctx context.Context, p capture.Plan) (capture.Result, error) {
		p.Timeout = cfg.SnapshotTimeout()
		return seq.Run(ctx, p)
	}

	listeners := session.Listeners{seq.Listener()}
	if led != nil {
		listeners = append(listeners, led)
	}

	if port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stdout)

		listeners = append(listeners, broadcaster.Listener())
		if err := sess.SetListener(listeners); err != nil {
			return err
		}

		defaults := web.SequenceRequest{
			Count:      cfg.Defaults.SequenceCount,
			IntervalMs: cfg.Defaults.SequenceIntervalMs,
		}
		handlers := web.NewHandlers(broadcaster, sess, saver, runSequence, defaults)
		srv := web.NewServer(webAddr, handlers)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	if err := sess.SetListener(listeners); err != nil {
		return err
	}

	// Run one sequence with current config (already has CLI overrides applied)
	debug.Section("Starting Snapshot Sequence")
	res, err := runSequence(ctx, capture.Plan{
		Count:    cfg.Defaults.SequenceCount,
		Interval: cfg.SequenceInterval(),
	})
	for _, path := range res.Saved {
		fmt.Println(path)
	}
	if err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	debug.Section("Sequence Complete")
	return nil
}

// overrides holds CLI values replacing config defaults. Zero means unset.
type overrides struct {
	Count    int
	Interval time.Duration
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(count int, interval time.Duration) error {
	if count != 0 && (count < 1 || count > web.MaxSequenceCount) {
		return fmt.Errorf("count must be between 1 and %d, got %d", web.MaxSequenceCount, count)
	}
	if interval < 0 || interval > time.Hour {
		return fmt.Errorf("interval must be between 0 and 1h, got %s", interval)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Count > 0 {
		cfg.Defaults.SequenceCount = o.Count
	}
	if o.Interval > 0 {
		cfg.Defaults.SequenceIntervalMs = int(o.Interval / time.Millisecond)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= → configured default, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	useDefault  bool
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.useDefault = true
		w.val = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	w.useDefault = false
	return nil
}

func (w *webPortFlag) port() int {
	if w.useDefault {
		return w.defaultPort
	}
	return w.val
}

// newAdapterFromConfig selects a camera backend based on configuration and
// builds the adapter matching the platform level.
func newAdapterFromConfig(cfg *config.Config, q camera.Poster) (session.Adapter, error) {
	var backends camera.Backends
	switch cfg.Camera.Backend {
	case config.BackendSim:
		sim := simcam.New(simcam.Options{Latency: cfg.SimLatency()})
		backends = camera.Backends{Legacy: sim.Legacy(), Modern: sim.Modern()}
	case config.BackendV4L2:
		v, err := v4l2.New(v4l2.Options{
			Devices:      deviceSpecs(cfg),
			FrameTimeout: cfg.FrameTimeout(),
			Warmup:       cfg.Camera.WarmupFrames,
		})
		if err != nil {
			return nil, err
		}
		backends = camera.Backends{Legacy: v.Legacy(), Modern: v.Modern()}
	default:
		return nil, fmt.Errorf("unsupported camera backend: %s", cfg.Camera.Backend)
	}
	return camera.Select(
		camera.Platform{Level: cfg.Camera.PlatformLevel},
		backends,
		q,
		camera.LegacyOptions{Landscape: cfg.Camera.Landscape},
	)
}

// deviceSpecs lists the configured V4L2 nodes, back camera first.
func deviceSpecs(cfg *config.Config) []v4l2.Spec {
	var specs []v4l2.Spec
	add := func(d config.DeviceConfig) {
		if d.Path == "" {
			return
		}
		facing := camera.FacingBack
		if d.Facing == "front" {
			facing = camera.FacingFront
		}
		specs = append(specs, v4l2.Spec{Path: d.Path, Facing: facing, Orientation: d.Orientation})
	}
	if cfg.Camera.Back != nil {
		add(*cfg.Camera.Back)
	}
	add(cfg.Camera.Front)
	return specs
}

// newPermissionFromConfig returns nil when no authorization model is used.
func newPermissionFromConfig(g gpio.Driver, cfg *config.Config) (session.PermissionChecker, error) {
	switch cfg.Permission.Model {
	case config.PermissionNone:
		return nil, nil
	case config.PermissionStatic:
		return permission.NewStatic(cfg.Permission.Granted), nil
	case config.PermissionSwitch:
		return permission.NewSwitch(g, cfg.Permission.Pin, cfg.Permission.ActiveLow)
	default:
		return nil, fmt.Errorf("unsupported permission model: %s", cfg.Permission.Model)
	}
}

// newOrientationFromConfig returns nil when orientation is not tracked.
func newOrientationFromConfig(cfg *config.Config) *orientation.Tracker {
	switch cfg.Orientation.Source {
	case config.OrientationStatic:
		return orientation.NewTracker(orientation.Static(cfg.Orientation.Degrees), cfg.OrientationInterval())
	case config.OrientationIIO:
		return orientation.NewTracker(orientation.IIO{Dir: cfg.Orientation.Dir}, cfg.OrientationInterval())
	default:
		return nil
	}
}

// newIndicatorFromConfig returns nil when no LED pin is configured.
func newIndicatorFromConfig(g gpio.Driver, cfg *config.Config) (*indicator.LED, error) {
	if cfg.Indicator.Pin == 0 {
		return nil, nil
	}
	led, err := indicator.NewLED(g, cfg.Indicator.Pin, cfg.FlashDuration())
	if err != nil {
		return nil, fmt.Errorf("status LED on pin %d: %w", cfg.Indicator.Pin, err)
	}
	return led, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 1 << 20

// EnvPrefix prefixes every environment override, e.g. SNAPGO_CAMERA_BACKEND.
const EnvPrefix = "SNAPGO_"

// Backends selectable through camera.backend.
const (
	BackendSim  = "sim"
	BackendV4L2 = "v4l2"
)

// Permission models.
const (
	PermissionNone   = "none"   // no authorization model, always allowed
	PermissionStatic = "static" // fixed grant from config
	PermissionSwitch = "switch" // physical privacy switch on a GPIO pin
)

// Orientation sources.
const (
	OrientationNone   = "none"
	OrientationStatic = "static"
	OrientationIIO    = "iio"
)

// DeviceConfig describes one V4L2 capture node.
type DeviceConfig struct {
	Path        string `yaml:"path" env:"PATH"`               // e.g. /dev/video0
	Facing      string `yaml:"facing" env:"FACING"`           // "front" or "back"
	Orientation int    `yaml:"orientation" env:"ORIENTATION"` // sensor mounting angle: 0, 90, 180, 270
}

// CameraConfig selects the camera backend and driver generation.
type CameraConfig struct {
	Backend        string        `yaml:"backend" env:"BACKEND"`               // "sim" or "v4l2"
	PlatformLevel  int           `yaml:"platform_level" env:"PLATFORM_LEVEL"` // 21 and above use the modern driver
	Landscape      bool          `yaml:"landscape" env:"LANDSCAPE"`           // display orientation for legacy picture sizes
	Front          DeviceConfig  `yaml:"front" envPrefix:"FRONT_"`
	Back           *DeviceConfig `yaml:"back,omitempty" envPrefix:"BACK_"` // optional
	FrameTimeoutMs int           `yaml:"frame_timeout_ms" env:"FRAME_TIMEOUT_MS"`
	WarmupFrames   int           `yaml:"warmup_frames" env:"WARMUP_FRAMES"`
	SimLatencyMs   int           `yaml:"sim_latency_ms" env:"SIM_LATENCY_MS"` // simulated driver latency
}

// PermissionConfig describes how camera access is authorized.
type PermissionConfig struct {
	Model     string `yaml:"model" env:"MODEL"`
	Granted   bool   `yaml:"granted" env:"GRANTED"`       // static model
	Pin       int    `yaml:"pin" env:"PIN"`               // switch model (BCM)
	ActiveLow bool   `yaml:"active_low" env:"ACTIVE_LOW"` // switch grants access when pulled low
}

// IndicatorConfig drives the optional status LED.
type IndicatorConfig struct {
	Pin     int `yaml:"pin" env:"PIN"` // BCM pin, 0 = no LED
	FlashMs int `yaml:"flash_ms" env:"FLASH_MS"`
}

// OrientationConfig selects the device orientation source.
type OrientationConfig struct {
	Source     string `yaml:"source" env:"SOURCE"`
	Degrees    int    `yaml:"degrees" env:"DEGREES"` // static source
	Dir        string `yaml:"dir" env:"DIR"`         // iio source, e.g. /sys/bus/iio/devices/iio:device0
	IntervalMs int    `yaml:"interval_ms" env:"INTERVAL_MS"`
}

// StorageConfig tells where snapshots are written.
type StorageConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	SequenceCount      int  `yaml:"sequence_count" env:"SEQUENCE_COUNT"`             // stills per sequence
	SequenceIntervalMs int  `yaml:"sequence_interval_ms" env:"SEQUENCE_INTERVAL_MS"` // delay between stills
	SnapshotTimeoutMs  int  `yaml:"snapshot_timeout_ms" env:"SNAPSHOT_TIMEOUT_MS"`   // max wait per camera event
	WebPort            int  `yaml:"web_port" env:"WEB_PORT"`                         // default port for -web=
	DebugLevel         int  `yaml:"debug_level" env:"DEBUG_LEVEL"`                   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO           bool `yaml:"mock_gpio" env:"MOCK_GPIO"`                       // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera" envPrefix:"CAMERA_"`
	Permission  PermissionConfig  `yaml:"permission" envPrefix:"PERMISSION_"`
	Indicator   IndicatorConfig   `yaml:"indicator" envPrefix:"INDICATOR_"`
	Orientation OrientationConfig `yaml:"orientation" envPrefix:"ORIENTATION_"`
	Storage     StorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
	Defaults    DefaultsConfig    `yaml:"defaults" envPrefix:"DEFAULTS_"`
}

// ValidateConfigPath accepts only .yaml files located directly in a
// configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if slices.Contains(strings.Split(filepath.ToSlash(clean), "/"), "..") {
		return fmt.Errorf("config path %q must not contain ..", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// LoadDotEnv loads environment variables from path. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads a YAML file, applies SNAPGO_* environment overrides and
// returns the validated configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv overlays SNAPGO_* environment variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// normalize fills defaults and validates ranges.
func (c *Config) normalize() error {
	// Camera
	if c.Camera.Backend == "" {
		c.Camera.Backend = BackendSim
	}
	switch c.Camera.Backend {
	case BackendSim:
	case BackendV4L2:
		if c.Camera.Front.Path == "" {
			return errors.New("camera.front.path is required for the v4l2 backend")
		}
	default:
		return fmt.Errorf("unsupported camera backend: %s", c.Camera.Backend)
	}
	if c.Camera.PlatformLevel <= 0 {
		c.Camera.PlatformLevel = 21 // modern driver
	}
	if err := checkDevice("camera.front", &c.Camera.Front, "front"); err != nil {
		return err
	}
	if c.Camera.Back != nil {
		if err := checkDevice("camera.back", c.Camera.Back, "back"); err != nil {
			return err
		}
	}
	if c.Camera.FrameTimeoutMs <= 0 {
		c.Camera.FrameTimeoutMs = 5000
	}
	if c.Camera.WarmupFrames < 0 {
		return fmt.Errorf("camera.warmup_frames must be >= 0, got %d", c.Camera.WarmupFrames)
	}
	if c.Camera.SimLatencyMs < 0 {
		return fmt.Errorf("camera.sim_latency_ms must be >= 0, got %d", c.Camera.SimLatencyMs)
	}

	// Permission
	if c.Permission.Model == "" {
		c.Permission.Model = PermissionNone
	}
	switch c.Permission.Model {
	case PermissionNone, PermissionStatic:
	case PermissionSwitch:
		if c.Permission.Pin <= 0 {
			return errors.New("permission.pin is required for the switch model")
		}
	default:
		return fmt.Errorf("unsupported permission model: %s", c.Permission.Model)
	}

	// Indicator
	if c.Indicator.Pin < 0 {
		return fmt.Errorf("indicator.pin must be >= 0, got %d", c.Indicator.Pin)
	}
	if c.Indicator.FlashMs <= 0 {
		c.Indicator.FlashMs = 150
	}

	// Orientation
	if c.Orientation.Source == "" {
		c.Orientation.Source = OrientationNone
	}
	switch c.Orientation.Source {
	case OrientationNone, OrientationStatic:
	case OrientationIIO:
		if c.Orientation.Dir == "" {
			c.Orientation.Dir = "/sys/bus/iio/devices/iio:device0"
		}
	default:
		return fmt.Errorf("unsupported orientation source: %s", c.Orientation.Source)
	}
	if c.Orientation.IntervalMs <= 0 {
		c.Orientation.IntervalMs = 200
	}

	// Storage
	if c.Storage.Dir == "" {
		c.Storage.Dir = "snapshots"
	}

	// Defaults
	if c.Defaults.SequenceCount <= 0 {
		c.Defaults.SequenceCount = 1
	}
	if c.Defaults.SequenceIntervalMs < 0 {
		return fmt.Errorf("sequence_interval_ms must be >= 0, got %d", c.Defaults.SequenceIntervalMs)
	}
	if c.Defaults.SnapshotTimeoutMs <= 0 {
		c.Defaults.SnapshotTimeoutMs = 10000
	}
	if c.Defaults.WebPort == 0 {
		c.Defaults.WebPort = 8080
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("web_port must be 1-65535, got %d", c.Defaults.WebPort)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func checkDevice(name string, d *DeviceConfig, facing string) error {
	if d.Facing == "" {
		d.Facing = facing
	}
	if d.Facing != "front" && d.Facing != "back" {
		return fmt.Errorf("%s.facing must be front or back, got %q", name, d.Facing)
	}
	switch d.Orientation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%s.orientation must be 0, 90, 180 or 270, got %d", name, d.Orientation)
	}
	return nil
}

// FrameTimeout bounds the wait for one V4L2 frame.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Camera.FrameTimeoutMs) * time.Millisecond
}

// SimLatency returns the simulated driver latency.
func (c *Config) SimLatency() time.Duration {
	return time.Duration(c.Camera.SimLatencyMs) * time.Millisecond
}

// FlashDuration returns the LED blink half-period.
func (c *Config) FlashDuration() time.Duration {
	return time.Duration(c.Indicator.FlashMs) * time.Millisecond
}

// OrientationInterval returns the accelerometer polling interval.
func (c *Config) OrientationInterval() time.Duration {
	return time.Duration(c.Orientation.IntervalMs) * time.Millisecond
}

// SequenceInterval returns the delay between two stills of a sequence.
func (c *Config) SequenceInterval() time.Duration {
	return time.Duration(c.Defaults.SequenceIntervalMs) * time.Millisecond
}

// SnapshotTimeout returns the max wait for one camera event.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Defaults.SnapshotTimeoutMs) * time.Millisecond
}

// AuthorizationModel reports whether camera access must be authorized.
func (c *Config) AuthorizationModel() bool {
	return c.Permission.Model != PermissionNone
}

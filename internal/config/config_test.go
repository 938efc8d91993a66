package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Try to escape via ../../configs/ok.yaml; filepath.Clean resolves this
	// and the parent must still be "configs".
	path := filepath.Join(cfgDir, "../../configs/ok.yaml")
	err := ValidateConfigPath(path)
	// After Clean the parent may or may not be "configs" depending on resolution.
	// The important thing is it either succeeds with a valid parent or fails.
	_ = err
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  backend: "v4l2"
  platform_level: 19
  landscape: true
  front:
    path: "/dev/video1"
    orientation: 270
  back:
    path: "/dev/video0"
    orientation: 90
  frame_timeout_ms: 3000
  warmup_frames: 2
permission:
  model: "switch"
  pin: 17
  active_low: true
indicator:
  pin: 27
  flash_ms: 100
orientation:
  source: "iio"
  dir: "/sys/bus/iio/devices/iio:device1"
  interval_ms: 250
storage:
  dir: "/var/lib/snapgo"
defaults:
  sequence_count: 5
  sequence_interval_ms: 2000
  web_port: 8980
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Backend != BackendV4L2 {
		t.Errorf("camera.backend = %q, want %q", cfg.Camera.Backend, BackendV4L2)
	}
	if cfg.Camera.PlatformLevel != 19 {
		t.Errorf("camera.platform_level = %d, want 19", cfg.Camera.PlatformLevel)
	}
	if cfg.Camera.Front.Path != "/dev/video1" || cfg.Camera.Front.Orientation != 270 {
		t.Errorf("camera.front = %+v", cfg.Camera.Front)
	}
	if cfg.Camera.Front.Facing != "front" {
		t.Errorf("camera.front.facing = %q, want default \"front\"", cfg.Camera.Front.Facing)
	}
	if cfg.Camera.Back == nil {
		t.Fatal("camera.back should not be nil")
	}
	if cfg.Camera.Back.Facing != "back" {
		t.Errorf("camera.back.facing = %q, want default \"back\"", cfg.Camera.Back.Facing)
	}
	if cfg.Permission.Model != PermissionSwitch || cfg.Permission.Pin != 17 || !cfg.Permission.ActiveLow {
		t.Errorf("permission = %+v", cfg.Permission)
	}
	if cfg.Orientation.Dir != "/sys/bus/iio/devices/iio:device1" {
		t.Errorf("orientation.dir = %q", cfg.Orientation.Dir)
	}
	if cfg.Defaults.SequenceCount != 5 {
		t.Errorf("sequence_count = %d, want 5", cfg.Defaults.SequenceCount)
	}
	if cfg.Defaults.WebPort != 8980 {
		t.Errorf("web_port = %d, want 8980", cfg.Defaults.WebPort)
	}
	if !cfg.AuthorizationModel() {
		t.Error("switch model should enable the authorization model")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("empty config should load with defaults, got: %v", err)
	}
	if cfg.Camera.Backend != BackendSim {
		t.Errorf("camera.backend default = %q, want %q", cfg.Camera.Backend, BackendSim)
	}
	if cfg.Camera.PlatformLevel != 21 {
		t.Errorf("camera.platform_level default = %d, want 21", cfg.Camera.PlatformLevel)
	}
	if cfg.Camera.FrameTimeoutMs != 5000 {
		t.Errorf("frame_timeout_ms default = %d, want 5000", cfg.Camera.FrameTimeoutMs)
	}
	if cfg.Permission.Model != PermissionNone {
		t.Errorf("permission.model default = %q, want %q", cfg.Permission.Model, PermissionNone)
	}
	if cfg.AuthorizationModel() {
		t.Error("default config should not use an authorization model")
	}
	if cfg.Indicator.FlashMs != 150 {
		t.Errorf("flash_ms default = %d, want 150", cfg.Indicator.FlashMs)
	}
	if cfg.Orientation.Source != OrientationNone {
		t.Errorf("orientation.source default = %q, want %q", cfg.Orientation.Source, OrientationNone)
	}
	if cfg.Orientation.IntervalMs != 200 {
		t.Errorf("orientation.interval_ms default = %d, want 200", cfg.Orientation.IntervalMs)
	}
	if cfg.Storage.Dir != "snapshots" {
		t.Errorf("storage.dir default = %q, want \"snapshots\"", cfg.Storage.Dir)
	}
	if cfg.Defaults.SequenceCount != 1 {
		t.Errorf("sequence_count default = %d, want 1", cfg.Defaults.SequenceCount)
	}
	if cfg.Defaults.SnapshotTimeoutMs != 10000 {
		t.Errorf("snapshot_timeout_ms default = %d, want 10000", cfg.Defaults.SnapshotTimeoutMs)
	}
	if cfg.Defaults.WebPort != 8080 {
		t.Errorf("web_port default = %d, want 8080", cfg.Defaults.WebPort)
	}
}

func TestLoad_IIODefaultDir(t *testing.T) {
	path := writeConfig(t, "orientation:\n  source: iio\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orientation.Dir == "" {
		t.Error("iio source should get a default device directory")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown_backend", "camera:\n  backend: usb\n"},
		{"v4l2_without_front", "camera:\n  backend: v4l2\n"},
		{"bad_orientation", "camera:\n  front:\n    orientation: 45\n"},
		{"bad_facing", "camera:\n  front:\n    facing: side\n"},
		{"negative_warmup", "camera:\n  warmup_frames: -1\n"},
		{"negative_latency", "camera:\n  sim_latency_ms: -5\n"},
		{"unknown_permission", "permission:\n  model: biometric\n"},
		{"switch_without_pin", "permission:\n  model: switch\n"},
		{"negative_led_pin", "indicator:\n  pin: -1\n"},
		{"unknown_orientation", "orientation:\n  source: gyro\n"},
		{"negative_interval", "defaults:\n  sequence_interval_ms: -1\n"},
		{"port_too_large", "defaults:\n  web_port: 70000\n"},
		{"debug_level_too_high", "defaults:\n  debug_level: 5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
camera:
  backend: "sim"
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Environment ----------

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SNAPGO_CAMERA_BACKEND", "v4l2")
	t.Setenv("SNAPGO_CAMERA_FRONT_PATH", "/dev/video7")
	t.Setenv("SNAPGO_CAMERA_FRONT_ORIENTATION", "90")
	t.Setenv("SNAPGO_PERMISSION_MODEL", "static")
	t.Setenv("SNAPGO_PERMISSION_GRANTED", "true")
	t.Setenv("SNAPGO_DEFAULTS_SEQUENCE_COUNT", "9")
	t.Setenv("SNAPGO_DEFAULTS_MOCK_GPIO", "true")

	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Front.Path != "/dev/video7" {
		t.Errorf("front.path = %q, want env override", cfg.Camera.Front.Path)
	}
	if cfg.Camera.Front.Orientation != 90 {
		t.Errorf("front.orientation = %d, want 90", cfg.Camera.Front.Orientation)
	}
	if cfg.Permission.Model != PermissionStatic || !cfg.Permission.Granted {
		t.Errorf("permission = %+v, want static granted", cfg.Permission)
	}
	if cfg.Defaults.SequenceCount != 9 {
		t.Errorf("sequence_count = %d, want 9", cfg.Defaults.SequenceCount)
	}
	// Values without an override keep the YAML value.
	if cfg.Camera.PlatformLevel != 19 {
		t.Errorf("platform_level = %d, want 19 from YAML", cfg.Camera.PlatformLevel)
	}
	if cfg.Camera.Back == nil || cfg.Camera.Back.Path != "/dev/video0" {
		t.Errorf("camera.back = %+v, want YAML value", cfg.Camera.Back)
	}
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("SNAPGO_DEFAULTS_DEBUG_LEVEL", "loud")
	path := writeConfig(t, "")
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-numeric debug level, got nil")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SNAPGO_STORAGE_DIR=/tmp/from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Register for restore; godotenv never overrides existing variables.
	t.Setenv("SNAPGO_STORAGE_DIR", "")
	os.Unsetenv("SNAPGO_STORAGE_DIR")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg, err := Load(writeConfig(t, "storage:\n  dir: yaml-dir\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Dir != "/tmp/from-dotenv" {
		t.Errorf("storage.dir = %q, want value from .env", cfg.Storage.Dir)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got: %v", err)
	}
}

// ---------- Helper methods ----------

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Camera:      CameraConfig{FrameTimeoutMs: 3000, SimLatencyMs: 20},
		Indicator:   IndicatorConfig{FlashMs: 100},
		Orientation: OrientationConfig{IntervalMs: 250},
		Defaults:    DefaultsConfig{SequenceIntervalMs: 1500, SnapshotTimeoutMs: 8000},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"FrameTimeout", cfg.FrameTimeout(), 3 * time.Second},
		{"SimLatency", cfg.SimLatency(), 20 * time.Millisecond},
		{"FlashDuration", cfg.FlashDuration(), 100 * time.Millisecond},
		{"OrientationInterval", cfg.OrientationInterval(), 250 * time.Millisecond},
		{"SequenceInterval", cfg.SequenceInterval(), 1500 * time.Millisecond},
		{"SnapshotTimeout", cfg.SnapshotTimeout(), 8 * time.Second},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s() = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestConfig_AuthorizationModel(t *testing.T) {
	for model, want := range map[string]bool{
		PermissionNone:   false,
		PermissionStatic: true,
		PermissionSwitch: true,
	} {
		cfg := &Config{Permission: PermissionConfig{Model: model}}
		if got := cfg.AuthorizationModel(); got != want {
			t.Errorf("AuthorizationModel() with %s = %v, want %v", model, got, want)
		}
	}
}

func ExampleConfig_SequenceInterval() {
	cfg := &Config{Defaults: DefaultsConfig{SequenceIntervalMs: 2500}}
	fmt.Println(cfg.SequenceInterval())
	// Output: 2.5s
}

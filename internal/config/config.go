package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
)

// RunMode selects how the executor handles checkpoints.
type RunMode string

const (
	ModeAuto RunMode = "auto" // checkpoints complete immediately
	ModeStep RunMode = "step" // checkpoints block until Advance()
)

// GridConfig describes the mirror grid geometry.
type GridConfig struct {
	Rows int     `yaml:"rows"`
	Cols int     `yaml:"cols"`
	Gap  float64 `yaml:"gap"` // normalized gap between tile footprints
}

// SettingsConfig holds the calibration tunables.
type SettingsConfig struct {
	MaxDetectionRetries int     `yaml:"max_detection_retries"` // capture attempts before escalating
	RetryDelayMs        int     `yaml:"retry_delay_ms"`        // wait between capture attempts
	CaptureTimeoutMs    int     `yaml:"capture_timeout_ms"`    // per-capture camera deadline
	CaptureTolerance    float64 `yaml:"capture_tolerance"`     // max normalized distance from expected position
	StepTestDelta       int     `yaml:"step_test_delta"`       // full-probe displacement in motor steps
	InterimStepDelta    int     `yaml:"interim_step_delta"`    // small first-tile probe; 0 = delta/4
	SettleDelayMs       int     `yaml:"settle_delay_ms"`       // wait after a move before capturing
}

// StagingConfig is the parked ("aside") pose in motor steps.
type StagingConfig struct {
	XSteps int `yaml:"x_steps"`
	YSteps int `yaml:"y_steps"`
}

// ROIConfig is the camera region of interest in normalized coordinates.
type ROIConfig struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// MotorHardwareConfig selects and parameterizes the motor transport.
type MotorHardwareConfig struct {
	Type string `yaml:"type"` // "mock", "serial" or "gpio"

	// Serial transport.
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	// GPIO stepper rig: per-axis pin assignments keyed by "mac/index".
	GPIOAxes map[string]GPIOAxisConfig `yaml:"gpio_axes"`
}

// GPIOAxisConfig holds the pins and travel limits of one GPIO-driven axis.
type GPIOAxisConfig struct {
	StepPin     int `yaml:"step_pin"`
	DirPin      int `yaml:"dir_pin"`
	EnablePin   int `yaml:"enable_pin"`   // 0 = not used. Active LOW.
	TravelSteps int `yaml:"travel_steps"` // full travel, used for hard-stop homing
	StepDelayUs int `yaml:"step_delay_us"`
}

// CameraHardwareConfig selects the vision source.
type CameraHardwareConfig struct {
	Type string `yaml:"type"` // "mock" or "http"
	URL  string `yaml:"url"`  // blob detector endpoint for "http"
}

// Config aggregates the full run configuration (the ExecutorConfig of the
// calibration core plus hardware selection).
type Config struct {
	Grid     GridConfig                       `yaml:"grid"`
	Mirrors  map[string]grid.MirrorAssignment `yaml:"mirrors"`
	Settings SettingsConfig                   `yaml:"settings"`
	Rotation int                              `yaml:"rotation"` // 0, 90, 180, 270
	Staging  StagingConfig                    `yaml:"staging"`
	ROI      ROIConfig                        `yaml:"roi"`
	Mode     RunMode                          `yaml:"mode"`

	Motors     MotorHardwareConfig  `yaml:"motors"`
	Camera     CameraHardwareConfig `yaml:"camera"`
	DebugLevel int                  `yaml:"debug_level"`
}

// Load reads a YAML file and returns the validated configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Grid.Rows <= 0 || c.Grid.Cols <= 0 {
		return fmt.Errorf("grid.rows and grid.cols must be > 0, got %dx%d", c.Grid.Rows, c.Grid.Cols)
	}
	if c.Grid.Gap < 0 {
		return fmt.Errorf("grid.gap must be >= 0, got %g", c.Grid.Gap)
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", c.Rotation)
	}
	switch c.Mode {
	case "":
		c.Mode = ModeAuto
	case ModeAuto, ModeStep:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeAuto, ModeStep, c.Mode)
	}

	s := &c.Settings
	if s.MaxDetectionRetries <= 0 {
		s.MaxDetectionRetries = 3
	}
	if s.RetryDelayMs <= 0 {
		s.RetryDelayMs = 250
	}
	if s.CaptureTimeoutMs <= 0 {
		s.CaptureTimeoutMs = 2000
	}
	if s.CaptureTolerance <= 0 {
		s.CaptureTolerance = 0.08
	}
	if s.StepTestDelta == 0 {
		s.StepTestDelta = 1200
	}
	if s.InterimStepDelta == 0 {
		s.InterimStepDelta = s.StepTestDelta / 4
	}
	if s.SettleDelayMs <= 0 {
		s.SettleDelayMs = 150
	}

	if c.Motors.Type == "" {
		c.Motors.Type = "mock"
	}
	if c.Camera.Type == "" {
		c.Camera.Type = "mock"
	}
	if c.Camera.Type == "http" && c.Camera.URL == "" {
		return fmt.Errorf("camera.url is required for camera.type=http")
	}
	if c.Motors.Type == "serial" && c.Motors.SerialPort == "" {
		return fmt.Errorf("motors.serial_port is required for motors.type=serial")
	}
	if c.Motors.BaudRate <= 0 {
		c.Motors.BaudRate = 115200
	}

	for key := range c.Mirrors {
		if _, ok := c.TileForKey(key); !ok {
			return fmt.Errorf("mirrors key %q is outside the %dx%d grid", key, c.Grid.Rows, c.Grid.Cols)
		}
	}
	return nil
}

// MirrorConfig returns the mirror assignment map in its domain form.
func (c *Config) MirrorConfig() grid.MirrorConfig {
	out := make(grid.MirrorConfig, len(c.Mirrors))
	for k, v := range c.Mirrors {
		out[k] = v
	}
	return out
}

// Tiles returns every grid cell in row-major order.
func (c *Config) Tiles() []grid.TileAddress {
	tiles := make([]grid.TileAddress, 0, c.Grid.Rows*c.Grid.Cols)
	for row := 0; row < c.Grid.Rows; row++ {
		for col := 0; col < c.Grid.Cols; col++ {
			tiles = append(tiles, grid.NewTileAddress(row, col))
		}
	}
	return tiles
}

// CalibratableTiles returns the cells with both motors assigned,
// row-major order.
func (c *Config) CalibratableTiles() []grid.TileAddress {
	var tiles []grid.TileAddress
	for _, t := range c.Tiles() {
		if a, ok := c.Mirrors[t.Key]; ok && a.Calibratable() {
			tiles = append(tiles, t)
		}
	}
	return tiles
}

// TileForKey parses a "{row}-{col}" key and reports whether it is inside
// the grid.
func (c *Config) TileForKey(key string) (grid.TileAddress, bool) {
	var row, col int
	if n, err := fmt.Sscanf(key, "%d-%d", &row, &col); n != 2 || err != nil {
		return grid.TileAddress{}, false
	}
	if row < 0 || row >= c.Grid.Rows || col < 0 || col >= c.Grid.Cols {
		return grid.TileAddress{}, false
	}
	return grid.NewTileAddress(row, col), true
}

// RetryDelay returns the wait between capture attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Settings.RetryDelayMs) * time.Millisecond
}

// CaptureTimeout returns the per-capture camera deadline.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Settings.CaptureTimeoutMs) * time.Millisecond
}

// SettleDelay returns the post-move stabilization wait.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Settings.SettleDelayMs) * time.Millisecond
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Reference tuning values used when a field is absent from the loaded file.
const (
	DefaultConfidenceThreshold = 60
	DefaultStartCount          = 4
	DefaultEndCount            = 6
	DefaultPauseTolerance      = 4
	DefaultMinDurationMinutes  = 2
	DefaultBufferCapacity      = 5
	DefaultReplayAttempts      = 3
	DefaultReplayBaseDelay     = 500 * time.Millisecond
	DefaultPollInterval        = 30 * time.Second
	DefaultSimulatedDuration   = 15 * time.Minute
)

// MinTripMinutes is the shortest trip ever recorded. Configured minimums and
// simulated durations below it are rejected.
const MinTripMinutes = 2

// TuningConfig is the root configuration for the detection engine. Every
// field is optional; the Get* accessors fall back to the reference values so
// partial files are safe.
type TuningConfig struct {
	// State machine
	ConfidenceThreshold *int `json:"confidence_threshold,omitempty"`
	StartCount          *int `json:"start_count,omitempty"`
	EndCount            *int `json:"end_count,omitempty"`
	PauseTolerance      *int `json:"pause_tolerance,omitempty"`
	MinDurationMinutes  *int `json:"min_duration_minutes,omitempty"`

	// Admission buffer
	BufferCapacity  *int    `json:"buffer_capacity,omitempty"`
	ReplayAttempts  *int    `json:"replay_attempts,omitempty"`
	ReplayBaseDelay *string `json:"replay_base_delay,omitempty"` // duration string like "500ms"

	// Feed / engine
	PollInterval      *string `json:"poll_interval,omitempty"`
	DebugMode         *bool   `json:"debug_mode,omitempty"`
	SimulatedDuration *string `json:"simulated_duration,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the reference values.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ConfidenceThreshold: ptrInt(DefaultConfidenceThreshold),
		StartCount:          ptrInt(DefaultStartCount),
		EndCount:            ptrInt(DefaultEndCount),
		PauseTolerance:      ptrInt(DefaultPauseTolerance),
		MinDurationMinutes:  ptrInt(DefaultMinDurationMinutes),
		BufferCapacity:      ptrInt(DefaultBufferCapacity),
		ReplayAttempts:      ptrInt(DefaultReplayAttempts),
		ReplayBaseDelay:     ptrString(DefaultReplayBaseDelay.String()),
		PollInterval:        ptrString(DefaultPollInterval.String()),
		DebugMode:           ptrBool(false),
		SimulatedDuration:   ptrString(DefaultSimulatedDuration.String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 100 {
			return fmt.Errorf("confidence_threshold must be between 0 and 100, got %d", *c.ConfidenceThreshold)
		}
	}
	for name, v := range map[string]*int{
		"start_count":     c.StartCount,
		"end_count":       c.EndCount,
		"buffer_capacity": c.BufferCapacity,
		"replay_attempts": c.ReplayAttempts,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.PauseTolerance != nil && *c.PauseTolerance < 0 {
		return fmt.Errorf("pause_tolerance must be non-negative, got %d", *c.PauseTolerance)
	}
	if c.MinDurationMinutes != nil && *c.MinDurationMinutes < MinTripMinutes {
		return fmt.Errorf("min_duration_minutes must be at least %d, got %d", MinTripMinutes, *c.MinDurationMinutes)
	}
	for name, v := range map[string]*string{
		"replay_base_delay":  c.ReplayBaseDelay,
		"poll_interval":      c.PollInterval,
		"simulated_duration": c.SimulatedDuration,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
		if name == "simulated_duration" && d < MinTripMinutes*time.Minute {
			return fmt.Errorf("simulated_duration must be at least %dm, got %s", MinTripMinutes, d)
		}
	}
	return nil
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetConfidenceThreshold returns the minimum confidence for a qualifying event.
func (c *TuningConfig) GetConfidenceThreshold() int {
	return getInt(c.ConfidenceThreshold, DefaultConfidenceThreshold)
}

// GetStartCount returns N_start, the consecutive qualifying events needed to start a trip.
func (c *TuningConfig) GetStartCount() int {
	return getInt(c.StartCount, DefaultStartCount)
}

// GetEndCount returns N_end, the STILL events past the pause tolerance needed to end a trip.
func (c *TuningConfig) GetEndCount() int {
	return getInt(c.EndCount, DefaultEndCount)
}

// GetPauseTolerance returns the STILL events absorbed without counting toward the end.
func (c *TuningConfig) GetPauseTolerance() int {
	return getInt(c.PauseTolerance, DefaultPauseTolerance)
}

func (c *TuningConfig) GetMinDurationMinutes() int {
	return getInt(c.MinDurationMinutes, DefaultMinDurationMinutes)
}

func (c *TuningConfig) GetBufferCapacity() int {
	return getInt(c.BufferCapacity, DefaultBufferCapacity)
}

func (c *TuningConfig) GetReplayAttempts() int {
	return getInt(c.ReplayAttempts, DefaultReplayAttempts)
}

// GetReplayBaseDelay returns the base delay; attempt n waits n × base.
func (c *TuningConfig) GetReplayBaseDelay() time.Duration {
	return getDuration(c.ReplayBaseDelay, DefaultReplayBaseDelay)
}

// GetPollInterval returns the pacing used when replaying fixture feeds.
func (c *TuningConfig) GetPollInterval() time.Duration {
	return getDuration(c.PollInterval, DefaultPollInterval)
}

func (c *TuningConfig) GetDebugMode() bool {
	if c.DebugMode == nil {
		return false
	}
	return *c.DebugMode
}

// GetSimulatedDuration returns the length of synthetic trips.
func (c *TuningConfig) GetSimulatedDuration() time.Duration {
	return getDuration(c.SimulatedDuration, DefaultSimulatedDuration)
}

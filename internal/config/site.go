// Package config loads the site configuration: the monitored boundary, the
// sensor identity and the flush cadence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/occupancy.report/internal/geometry"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// ExampleConfigPath is the checked-in example site configuration.
const ExampleConfigPath = "config/site.example.yaml"

const (
	defaultFlushInterval = 5 * time.Second
	defaultSensorModel   = "sete003"
	maxFileSize          = 1 * 1024 * 1024 // 1MB
)

// ErrNoBoundary is returned when the site config defines no boundary.
var ErrNoBoundary = geometry.ErrNoBoundary

// SiteConfig is the startup configuration of one monitored boundary. It is
// immutable once loaded.
type SiteConfig struct {
	SensorID    string  `json:"sensor_id" yaml:"sensor_id" validate:"required,max=64"`
	SensorModel *string `json:"sensor_model,omitempty" yaml:"sensor_model,omitempty" validate:"omitempty,alphanum"`

	Boundary BoundaryConfig `json:"boundary" yaml:"boundary"`

	InvertEnterExit *bool    `json:"invert_enter_exit,omitempty" yaml:"invert_enter_exit,omitempty"`
	JumpThreshold   *float64 `json:"jump_threshold,omitempty" yaml:"jump_threshold,omitempty" validate:"omitempty,gt=0"`

	FlushInterval      *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"` // duration string like "5s"
	SkipEmptyIntervals *bool   `json:"skip_empty_intervals,omitempty" yaml:"skip_empty_intervals,omitempty"`

	// TrackIDs restricts counting to the listed ids; empty accepts all.
	TrackIDs []string `json:"track_ids,omitempty" yaml:"track_ids,omitempty" validate:"omitempty,dive,required"`
}

// BoundaryConfig holds either a line or a polygon.
type BoundaryConfig struct {
	Line    *geometry.Line   `json:"line,omitempty" yaml:"line,omitempty"`
	Polygon []geometry.Point `json:"polygon,omitempty" yaml:"polygon,omitempty"`
}

// Geometry converts the config form into a geometry.Boundary.
func (b BoundaryConfig) Geometry() geometry.Boundary {
	var out geometry.Boundary
	if b.Line != nil {
		l := *b.Line
		out.Line = &l
	}
	if b.Polygon != nil {
		out.Polygon = &geometry.Polygon{Vertices: append([]geometry.Point(nil), b.Polygon...)}
	}
	return out
}

// Load reads a SiteConfig from a .json, .yaml or .yml file and validates it.
func Load(path string) (*SiteConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SiteConfig{}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints, the boundary geometry and the flush
// interval.
func (c *SiteConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if err := c.Boundary.Geometry().Validate(); err != nil {
		return fmt.Errorf("boundary: %w", err)
	}

	if c.FlushInterval != nil && *c.FlushInterval != "" {
		d, err := time.ParseDuration(*c.FlushInterval)
		if err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("flush_interval must be positive, got %v", d)
		}
	}
	return nil
}

// DetectorConfig returns the crossing detector configuration.
func (c *SiteConfig) DetectorConfig() occupancy.Config {
	cfg := occupancy.Config{
		Boundary:        c.Boundary.Geometry(),
		InvertEnterExit: c.GetInvertEnterExit(),
	}
	if c.JumpThreshold != nil {
		v := *c.JumpThreshold
		cfg.JumpThreshold = &v
	}
	return cfg
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *SiteConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return defaultFlushInterval
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return defaultFlushInterval
	}
	return d
}

// GetInvertEnterExit returns the invert_enter_exit value or false.
func (c *SiteConfig) GetInvertEnterExit() bool {
	return c.InvertEnterExit != nil && *c.InvertEnterExit
}

// GetSkipEmptyIntervals returns the skip_empty_intervals value or false.
func (c *SiteConfig) GetSkipEmptyIntervals() bool {
	return c.SkipEmptyIntervals != nil && *c.SkipEmptyIntervals
}

// GetSensorModel returns the sensor model or the default.
func (c *SiteConfig) GetSensorModel() string {
	if c.SensorModel == nil || *c.SensorModel == "" {
		return defaultSensorModel
	}
	return *c.SensorModel
}

// DefaultSubject returns the bus subject the gateway publishes raw ticks on.
func (c *SiteConfig) DefaultSubject() string {
	return fmt.Sprintf("SETE.sensors.%s.%s.raw", c.GetSensorModel(), c.SensorID)
}

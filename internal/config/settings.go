// Package config loads the ingestion settings supplied by the external
// settings store: update interval, detection list capacity, visualization
// toggle, and the stream target address.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings bounds. Values outside these ranges are clamped by the getters so
// a partially bad settings file cannot destabilize the ingestion loop.
const (
	DefaultMaxDetections = 30
	MinMaxDetections     = 10
	MaxMaxDetections     = 100

	DefaultUpdateIntervalMs = 1000
	MinUpdateIntervalMs     = 100
	MaxUpdateIntervalMs     = 10000

	// DefaultTargetAddress is the sensor bridge's default listen address.
	DefaultTargetAddress = "192.168.4.1:9000"
)

// Settings is the ingestion configuration. Fields are pointers so a partial
// settings file leaves unset values at their defaults; use the Get* methods
// for resolved values.
type Settings struct {
	UpdateIntervalMs     *int    `json:"update_interval_ms,omitempty"`
	MaxDetections        *int    `json:"max_detections,omitempty"`
	VisualizationEnabled *bool   `json:"visualization_enabled,omitempty"`
	TargetAddress        *string `json:"target_address,omitempty"`
}

// DefaultSettings returns a Settings with every field unset, so all getters
// resolve to defaults.
func DefaultSettings() *Settings {
	return &Settings{}
}

// Load reads Settings from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Validate rejects values a caller probably did not intend. Out-of-range but
// plausible values are clamped by the getters instead.
func (s *Settings) Validate() error {
	if s.UpdateIntervalMs != nil && *s.UpdateIntervalMs <= 0 {
		return fmt.Errorf("update_interval_ms must be positive, got %d", *s.UpdateIntervalMs)
	}
	if s.MaxDetections != nil && *s.MaxDetections <= 0 {
		return fmt.Errorf("max_detections must be positive, got %d", *s.MaxDetections)
	}
	if s.TargetAddress != nil && *s.TargetAddress == "" {
		return fmt.Errorf("target_address must not be empty when set")
	}
	return nil
}

// GetUpdateInterval returns the simulation poll interval, clamped to the
// supported range.
func (s *Settings) GetUpdateInterval() time.Duration {
	ms := DefaultUpdateIntervalMs
	if s.UpdateIntervalMs != nil {
		ms = clampInt(*s.UpdateIntervalMs, MinUpdateIntervalMs, MaxUpdateIntervalMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// GetMaxDetections returns the ledger capacity, clamped to the supported
// range.
func (s *Settings) GetMaxDetections() int {
	if s.MaxDetections == nil {
		return DefaultMaxDetections
	}
	return clampInt(*s.MaxDetections, MinMaxDetections, MaxMaxDetections)
}

// GetVisualizationEnabled returns the visualization toggle.
func (s *Settings) GetVisualizationEnabled() bool {
	if s.VisualizationEnabled == nil {
		return true
	}
	return *s.VisualizationEnabled
}

// GetTargetAddress returns the stream transport's target address.
func (s *Settings) GetTargetAddress() string {
	if s.TargetAddress == nil || *s.TargetAddress == "" {
		return DefaultTargetAddress
	}
	return *s.TargetAddress
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

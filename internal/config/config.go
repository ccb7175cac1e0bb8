// Package config provides the JSON configuration for mosaic runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"frame-mosaic/internal/vision"
)

const (
	defaultConfigPath = "~/.config/frame-mosaic/config.json"
	envConfigPath     = "MOSAIC_CONFIG"
)

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Backends lists the accepted backend names.
var Backends = []string{"opencv", "native"}

// Config holds user-editable settings.
type Config struct {
	Mosaic  Mosaic  `json:"mosaic"`
	Backend string  `json:"backend"` // opencv, native
	Logging Logging `json:"logging"`
	Output  Output  `json:"output"`
}

// Mosaic configures canvas sizing, feature extraction and estimation.
type Mosaic struct {
	HeightMultiplier    float64 `json:"height_multiplier"`
	WidthMultiplier     float64 `json:"width_multiplier"`
	Detector            string  `json:"detector"` // sift, orb
	KeypointBudget      int     `json:"keypoint_budget"`
	RatioTest           float64 `json:"ratio_test"`
	MatchCap            int     `json:"match_cap"`
	MinMatches          int     `json:"min_matches"`
	DominantMotionRatio float64 `json:"dominant_motion_ratio"`
	RenormalizeEvery    int     `json:"renormalize_every"` // 0 disables
}

// Logging controls verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Output configures where results go.
type Output struct {
	Path    string `json:"path"`
	Journal string `json:"journal"` // SQLite file; empty disables the journal
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mosaic:  DefaultMosaic(),
		Backend: "opencv",
		Logging: Logging{Level: "info", Format: "text"},
		Output:  Output{Path: "mosaic.jpg"},
	}
}

// DefaultMosaic returns the default pipeline settings: a canvas three
// frames tall and 1.2 frames wide, SIFT with 600 keypoints, a 0.7 ratio
// test, 30 matches and a 1.5 dominance ratio.
func DefaultMosaic() Mosaic {
	return Mosaic{
		HeightMultiplier:    3,
		WidthMultiplier:     1.2,
		Detector:            "sift",
		KeypointBudget:      600,
		RatioTest:           0.7,
		MatchCap:            30,
		MinMatches:          4,
		DominantMotionRatio: 1.5,
	}
}

// Path resolves the configuration file location: the argument if set,
// then $MOSAIC_CONFIG, then the per-user default.
func Path(path string) (string, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}
	return expandUser(path)
}

// Load reads configuration from disk over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved, err := Path(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(resolved)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", resolved, err)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, creating the directory if needed.
func (c *Config) Save(path string) error {
	resolved, err := Path(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, append(data, '\n'), 0o644)
}

// Validate checks every section. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if err := c.Mosaic.Validate(); err != nil {
		return err
	}
	if !contains(Backends, c.Backend) {
		return invalid("backend %q is not one of %s", c.Backend, strings.Join(Backends, ", "))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return invalid("logging format %q is not text or json", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging level %q is not debug, info, warn or error", c.Logging.Level)
	}
	return nil
}

// Validate checks the pipeline settings. Errors wrap ErrInvalid.
func (m Mosaic) Validate() error {
	switch {
	case m.HeightMultiplier <= 1:
		return invalid("height_multiplier must be greater than 1, got %g", m.HeightMultiplier)
	case m.WidthMultiplier <= 1:
		return invalid("width_multiplier must be greater than 1, got %g", m.WidthMultiplier)
	case m.KeypointBudget <= 0:
		return invalid("keypoint_budget must be positive, got %d", m.KeypointBudget)
	case m.RatioTest <= 0 || m.RatioTest > 1:
		return invalid("ratio_test must be in (0, 1], got %g", m.RatioTest)
	case m.MatchCap <= 0:
		return invalid("match_cap must be positive, got %d", m.MatchCap)
	case m.MinMatches < 4:
		return invalid("min_matches must be at least 4, got %d", m.MinMatches)
	case m.MatchCap < m.MinMatches:
		return invalid("match_cap %d is below min_matches %d", m.MatchCap, m.MinMatches)
	case m.DominantMotionRatio < 1:
		return invalid("dominant_motion_ratio must be at least 1, got %g", m.DominantMotionRatio)
	case m.RenormalizeEvery < 0:
		return invalid("renormalize_every must not be negative, got %d", m.RenormalizeEvery)
	}
	if _, err := vision.ParseFamily(m.Detector); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Family returns the parsed detector family.
func (m Mosaic) Family() vision.Family {
	f, _ := vision.ParseFamily(m.Detector)
	return f
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}

package position

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAttempts  = 10
	DefaultThreshold = 1e-6
	DefaultSpacing   = 1024
)

const (
	EnvAttempts  = "POSITION_ATTEMPTS"
	EnvThreshold = "POSITION_THRESHOLD"
	EnvSpacing   = "POSITION_SPACING"
)

// Config tunes resolution and reformation.
type Config struct {
	// Attempts is the number of collision probes before giving up.
	Attempts int `yaml:"attempts"`
	// Threshold is the smallest acceptable gap between neighbors. A move
	// that leaves a smaller gap triggers a reformation.
	Threshold float64 `yaml:"threshold"`
	// Spacing is the distance between neighbors after a reformation.
	Spacing float64 `yaml:"spacing"`
}

func DefaultConfig() Config {
	return Config{
		Attempts:  DefaultAttempts,
		Threshold: DefaultThreshold,
		Spacing:   DefaultSpacing,
	}
}

func (c Config) Validate() error {
	if c.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be positive, got %d", ErrInvalidConfig, c.Attempts)
	}
	if !(c.Threshold > 0) {
		return fmt.Errorf("%w: threshold must be positive, got %v", ErrInvalidConfig, c.Threshold)
	}
	if !(c.Spacing > c.Threshold) {
		return fmt.Errorf("%w: spacing %v must exceed threshold %v", ErrInvalidConfig, c.Spacing, c.Threshold)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from
// the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read position config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse position config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv overlays POSITION_* environment variables on base.
func ConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if v := os.Getenv(EnvAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvAttempts, err)
		}
		cfg.Attempts = n
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvThreshold, err)
		}
		cfg.Threshold = f
	}
	if v := os.Getenv(EnvSpacing); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvSpacing, err)
		}
		cfg.Spacing = f
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

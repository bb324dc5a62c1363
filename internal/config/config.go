package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Audio capture settings
	Audio struct {
		Device     string `yaml:"device"`
		SampleRate uint32 `yaml:"sample_rate"`
		FrameSize  int    `yaml:"frame_size"`
	} `yaml:"audio"`

	// Recording calibration
	Recording struct {
		DurationSeconds  float64 `yaml:"duration_seconds"`
		ScoreScale       float64 `yaml:"score_scale"`
		CountdownSeconds int     `yaml:"countdown_seconds"`
		TickRate         int     `yaml:"tick_rate"`
	} `yaml:"recording"`

	// Submission endpoint
	Submit struct {
		BaseURL string        `yaml:"base_url"`
		EventID string        `yaml:"event_id"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"submit"`

	// Remote control server
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Hotkey struct {
		Start string `yaml:"start"`
	} `yaml:"hotkey"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Audio defaults
	cfg.Audio.Device = ""
	cfg.Audio.SampleRate = 44100
	cfg.Audio.FrameSize = 2048

	// 7s at x10: a sustained RMS of 0.3 lands at 6/10
	cfg.Recording.DurationSeconds = 7
	cfg.Recording.ScoreScale = 10
	cfg.Recording.CountdownSeconds = 3
	cfg.Recording.TickRate = 60

	cfg.Submit.BaseURL = "http://localhost:3000"
	cfg.Submit.Timeout = 10 * time.Second

	cfg.Server.Host = "localhost"
	cfg.Server.Port = 50051

	cfg.Hotkey.Start = ""
	cfg.Log.Level = "info"

	return cfg
}

// Validate reports the first setting that cannot drive a measurement
func (c *Config) Validate() error {
	switch {
	case c.Audio.SampleRate == 0:
		return errors.New("audio.sample_rate must be positive")
	case c.Audio.FrameSize <= 0:
		return errors.New("audio.frame_size must be positive")
	case c.Recording.DurationSeconds <= 0:
		return errors.New("recording.duration_seconds must be positive")
	case c.Recording.ScoreScale <= 0:
		return errors.New("recording.score_scale must be positive")
	case c.Recording.CountdownSeconds < 0:
		return errors.New("recording.countdown_seconds cannot be negative")
	case c.Recording.TickRate <= 0:
		return errors.New("recording.tick_rate must be positive")
	}
	return nil
}

// RecordingDuration returns the fixed recording window
func (c *Config) RecordingDuration() time.Duration {
	return time.Duration(c.Recording.DurationSeconds * float64(time.Second))
}

// TickInterval returns the nominal host loop period
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Recording.TickRate)
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.crowdmeterrc > /etc/crowdmeter/config.yaml
func LoadWithFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	for _, path := range fallbackPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if cfg, err := Load(path); err == nil {
			return cfg, nil
		}
	}

	// No config file found, return defaults
	return DefaultConfig(), nil
}

func fallbackPaths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".crowdmeterrc"))
	}
	return append(paths, "/etc/crowdmeter/config.yaml")
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

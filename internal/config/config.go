package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"form-coach/internal/coaching"
	"form-coach/internal/models"
	"form-coach/internal/pipeline"
	"form-coach/internal/repetition"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Fields omitted from the YAML file keep
// their defaults, so partial files are safe.
type Config struct {
	Server        ServerConfig   `yaml:"server"`
	Redis         RedisConfig    `yaml:"redis"`
	Pipeline      PipelineConfig `yaml:"pipeline"`
	Coaching      CoachingConfig `yaml:"coaching"`
	EnvelopesFile string         `yaml:"envelopes_file"`
	LogLevel      string         `yaml:"log_level"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EventBuffer     int           `yaml:"event_buffer"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type PipelineConfig struct {
	BufferSize          int           `yaml:"buffer_size"`
	EMAAlpha            float64       `yaml:"ema_alpha"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	UseDepth            bool          `yaml:"use_depth"`
	IssueCooldown       time.Duration `yaml:"issue_cooldown"`
	RepWindow           int           `yaml:"rep_window"`
	VelocityThreshold   float64       `yaml:"velocity_threshold"`
	MinDescentRatio     float64       `yaml:"min_descent_ratio"`
	Debounce            time.Duration `yaml:"debounce"`
	MinBodyHeight       float64       `yaml:"min_body_height"`
}

type CoachingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Critical time.Duration `yaml:"critical_interval"`
	Warning  time.Duration `yaml:"warning_interval"`
	Minor    time.Duration `yaml:"minor_interval"`
}

func Default() *Config {
	p := pipeline.DefaultConfig()
	intervals := coaching.DefaultIntervals()
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			EventBuffer:     10000,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Pipeline: PipelineConfig{
			BufferSize:          p.BufferSize,
			EMAAlpha:            p.Alpha,
			ConfidenceThreshold: p.ConfidenceThreshold,
			UseDepth:            p.UseDepth,
			IssueCooldown:       p.IssueCooldown,
			RepWindow:           p.Repetition.Window,
			VelocityThreshold:   p.Repetition.VelocityThreshold,
			MinDescentRatio:     p.Repetition.MinDescentRatio,
			Debounce:            p.Repetition.Debounce,
			MinBodyHeight:       p.Repetition.MinBodyHeight,
		},
		Coaching: CoachingConfig{
			Enabled:  true,
			Critical: intervals[models.SeverityCritical],
			Warning:  intervals[models.SeverityWarning],
			Minor:    intervals[models.SeverityMinor],
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with PORT, REDIS_ADDR and LOG_LEVEL.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	p := c.Pipeline
	if p.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", p.BufferSize)
	}
	if p.EMAAlpha <= 0 || p.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %f", p.EMAAlpha)
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in (0, 1], got %f", p.ConfidenceThreshold)
	}
	if p.IssueCooldown < 0 {
		return fmt.Errorf("issue_cooldown must be non-negative, got %s", p.IssueCooldown)
	}
	if p.RepWindow < 2 {
		return fmt.Errorf("rep_window must be at least 2, got %d", p.RepWindow)
	}
	if p.VelocityThreshold <= 0 {
		return fmt.Errorf("velocity_threshold must be positive, got %f", p.VelocityThreshold)
	}
	if p.MinDescentRatio <= 0 {
		return fmt.Errorf("min_descent_ratio must be positive, got %f", p.MinDescentRatio)
	}
	if p.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", p.Debounce)
	}
	if p.MinBodyHeight <= 0 {
		return fmt.Errorf("min_body_height must be positive, got %f", p.MinBodyHeight)
	}
	if c.Server.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.Server.EventBuffer)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// PipelineConfig maps the pipeline section onto per-session tunables.
func (c *Config) PipelineConfig() pipeline.Config {
	p := c.Pipeline
	return pipeline.Config{
		BufferSize:          p.BufferSize,
		Alpha:               p.EMAAlpha,
		ConfidenceThreshold: p.ConfidenceThreshold,
		UseDepth:            p.UseDepth,
		IssueCooldown:       p.IssueCooldown,
		Repetition: repetition.Config{
			Window:              p.RepWindow,
			VelocityThreshold:   p.VelocityThreshold,
			MinDescentRatio:     p.MinDescentRatio,
			Debounce:            p.Debounce,
			MinBodyHeight:       p.MinBodyHeight,
			ConfidenceThreshold: p.ConfidenceThreshold,
		},
	}
}

// CoachingIntervals returns the throttle intervals. A zero interval disables
// requests for that severity.
func (c *Config) CoachingIntervals() map[models.Severity]time.Duration {
	out := make(map[models.Severity]time.Duration, 3)
	for sev, d := range map[models.Severity]time.Duration{
		models.SeverityCritical: c.Coaching.Critical,
		models.SeverityWarning:  c.Coaching.Warning,
		models.SeverityMinor:    c.Coaching.Minor,
	} {
		if d > 0 {
			out[sev] = d
		}
	}
	return out
}

package structsched

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	yaml "go.yaml.in/yaml/v3"
)

// Config is the file form of the scheduler [Options]. Durations and
// priorities are kept as strings so both YAML and TOML files decode the same
// way; [Config.Validate] parses them.
type Config struct {
	Workers           int       `yaml:"workers" toml:"workers"`
	DefaultPriority   string    `yaml:"default_priority" toml:"default_priority"`
	DrainGrace        string    `yaml:"drain_grace" toml:"drain_grace"`
	EscalationLogRate int       `yaml:"escalation_log_rate" toml:"escalation_log_rate"`
	Log               LogConfig `yaml:"log" toml:"log"`
}

// LogConfig controls the logger built by [Config.Logger].
type LogConfig struct {
	Level   string `yaml:"level" toml:"level"`
	Console bool   `yaml:"console" toml:"console"`
}

// DefaultConfig returns the configuration equivalent to calling [New] with
// no options, logging at info level to a console writer.
func DefaultConfig() Config {
	return Config{
		Workers:           defaultWorkers,
		DefaultPriority:   Priorities.Default.String(),
		DrainGrace:        defaultDrainGrace.String(),
		EscalationLogRate: defaultEscalationLogRate,
		Log:               LogConfig{Level: "info", Console: true},
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file on top of
// [DefaultConfig]. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("yaml decode %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("toml decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("toml decode %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field, qualified by its key.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers: must be >= 0")
	}
	if _, err := parsePriorityField("default_priority", c.DefaultPriority); err != nil {
		return err
	}
	if _, err := parseDurationField("drain_grace", c.DrainGrace); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level))); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Options maps the configuration onto scheduler options. Zero values keep the
// scheduler defaults.
func (c Config) Options(log zerolog.Logger) []Option {
	opts := []Option{
		WithWorkers(c.Workers),
		WithEscalationLogRate(c.EscalationLogRate),
		WithLogger(log),
	}
	if p, err := parsePriorityField("default_priority", c.DefaultPriority); err == nil {
		opts = append(opts, WithDefaultPriority(p))
	}
	if d, err := parseDurationField("drain_grace", c.DrainGrace); err == nil {
		opts = append(opts, WithDrainGrace(d))
	}
	return opts
}

// Logger builds a zerolog logger writing to w at the configured level, in
// human readable form when Console is set.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Log.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func parsePriorityField(path, raw string) (Priority, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Priorities.Unknown, nil
	}
	var p Priority
	if err := p.UnmarshalText([]byte(s)); err != nil {
		return Priority{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

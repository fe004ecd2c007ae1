// Package config loads the rsheet server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultMaxConnections bounds concurrently served connections
const DefaultMaxConnections = 1024

var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the on-disk configuration. every field is optional; flags
// override whatever the file sets.
type Config struct {
	// ListenAddr is the TCP address for the line protocol. empty means the
	// terminal serves instead.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`

	// HTTPAddr enables the HTTP/JSON and WebSocket API when set
	HTTPAddr string `yaml:"http_addr" validate:"omitempty,hostname_port"`

	MaxConnections int  `yaml:"max_connections" validate:"gte=1,lte=1048576"`
	MarkMode       bool `yaml:"mark_mode"`

	Log   LogConfig   `yaml:"log"`
	Trace TraceConfig `yaml:"trace"`

	// Cells seeds the sheet at startup, cell name -> expression
	Cells map[string]string `yaml:"cells" validate:"dive,keys,required,endkeys,required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type TraceConfig struct {
	Stdout bool `yaml:"stdout"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		MaxConnections: DefaultMaxConnections,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints, normalizing case first
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the log settings alone, e.g. for an environment override
func (l *LogConfig) Validate() error {
	l.Level = strings.ToLower(l.Level)
	l.Format = strings.ToLower(l.Format)
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel maps the configured level name onto slog
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

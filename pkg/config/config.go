// Package config provides configuration loading, validation, and hot
// reload for warden.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables that override file
// values, e.g. WARDEN_ADMIN_ADDR=:9090.
const envPrefix = "WARDEN_"

// Config represents the complete application configuration.
type Config struct {
	Admin   AdminConfig    `mapstructure:"admin"`
	Manager ManagerConfig  `mapstructure:"manager"`
	Servers []ServerConfig `mapstructure:"servers" validate:"dive"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// AdminConfig contains the admin HTTP API configuration.
type AdminConfig struct {
	Addr     string        `mapstructure:"addr" validate:"required"`
	TLS      TLSConfig     `mapstructure:"tls"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
}

// TLSConfig contains TLS configuration for the admin listener.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" validate:"omitempty,file"`
	KeyFile  string `mapstructure:"key_file" validate:"omitempty,file"`
}

// TimeoutConfig contains admin server timeout configuration.
type TimeoutConfig struct {
	Read  time.Duration `mapstructure:"read"`
	Write time.Duration `mapstructure:"write"`
	Idle  time.Duration `mapstructure:"idle"`
}

// ManagerConfig contains connection-manager-wide settings.
type ManagerConfig struct {
	// ClientName and ClientVersion identify warden to upstream servers
	// during the MCP handshake.
	ClientName    string `mapstructure:"client_name"`
	ClientVersion string `mapstructure:"client_version"`

	// WatchConfig enables automatic reload when the config file changes
	// on disk. SIGHUP reload works regardless.
	WatchConfig bool `mapstructure:"watch_config"`
}

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	ID      string            `mapstructure:"id" validate:"required"`
	Type    string            `mapstructure:"type" validate:"required,oneof=stdio http sse"`
	Command []string          `mapstructure:"command"`
	URL     string            `mapstructure:"url" validate:"omitempty,url"`
	Env     map[string]string `mapstructure:"env"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxFailures       int           `mapstructure:"max_failures" validate:"omitempty,min=1"`
	FailureWindow     time.Duration `mapstructure:"failure_window"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// Per-server defaults applied after unmarshalling.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxFailures       = 3
	DefaultFailureWindow     = 60 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
)

// Loader handles configuration loading and validation.
type Loader struct {
	k         *koanf.Koanf
	validator *validator.Validate
}

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return ve.Message
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := validator.New()

	// Register custom validators
	v.RegisterValidation("file", validateFileExists)
	v.RegisterValidation("dir", validateDirExists)

	return &Loader{
		k:         koanf.New("."),
		validator: v,
	}
}

// validateFileExists checks if a file exists (for non-empty values)
func validateFileExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true // Allow empty values for optional fields
	}
	_, err := os.Stat(path)
	return err == nil
}

// validateDirExists checks if a directory exists (for non-empty values)
func validateDirExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true // Allow empty values for optional fields
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// LoadFromFile loads configuration from a YAML file with environment
// variable overrides, applies per-server defaults, and validates the
// result.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	// Fresh tree on every load so a reload does not inherit keys that
	// were removed from the file.
	l.k = koanf.New(".")

	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	// Environment variables override file values.
	if err := l.k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var config Config
	if err := l.k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := l.validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Admin.Addr == "" {
		config.Admin.Addr = ":9090"
	}
	if config.Manager.ClientName == "" {
		config.Manager.ClientName = "mcp-warden"
	}
	if config.Manager.ClientVersion == "" {
		config.Manager.ClientVersion = "dev"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	for i := range config.Servers {
		s := &config.Servers[i]
		if s.HeartbeatInterval <= 0 {
			s.HeartbeatInterval = DefaultHeartbeatInterval
		}
		if s.MaxFailures <= 0 {
			s.MaxFailures = DefaultMaxFailures
		}
		if s.FailureWindow <= 0 {
			s.FailureWindow = DefaultFailureWindow
		}
		if s.ConnectTimeout <= 0 {
			s.ConnectTimeout = DefaultConnectTimeout
		}
	}
}

// validate performs struct validation followed by business rules the tag
// language cannot express.
func (l *Loader) validate(config *Config) error {
	if err := l.validator.Struct(config); err != nil {
		var validationErrors ValidationErrors
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, ValidationError{
				Field:   err.Field(),
				Tag:     err.Tag(),
				Value:   fmt.Sprintf("%v", err.Value()),
				Message: l.formatValidationMessage(err),
			})
		}
		return validationErrors
	}

	return l.validateBusinessRules(config)
}

// formatValidationMessage creates human-readable validation error messages
func (l *Loader) formatValidationMessage(err validator.FieldError) string {
	field := err.Field()
	tag := err.Tag()
	value := fmt.Sprintf("%v", err.Value())

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL, got '%s'", field, value)
	case "file":
		return fmt.Sprintf("field '%s' must be a valid file path, got '%s'", field, value)
	case "dir":
		return fmt.Sprintf("field '%s' must be a valid directory path, got '%s'", field, value)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s, got '%s'", field, err.Param(), value)
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s, got '%s'", field, err.Param(), value)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s], got '%s'", field, err.Param(), value)
	default:
		return fmt.Sprintf("field '%s' failed validation '%s' with value '%s'", field, tag, value)
	}
}

// validateBusinessRules performs custom business logic validation
func (l *Loader) validateBusinessRules(config *Config) error {
	var errors []string

	// Validate TLS configuration consistency
	if (config.Admin.TLS.CertFile == "") != (config.Admin.TLS.KeyFile == "") {
		errors = append(errors, "both tls.cert_file and tls.key_file must be specified together or both empty")
	}

	seen := make(map[string]int)
	for i, server := range config.Servers {
		if first, dup := seen[server.ID]; dup {
			errors = append(errors, fmt.Sprintf(
				"servers[%d]: duplicate server id '%s' (first defined at servers[%d])",
				i, server.ID, first))
		} else {
			seen[server.ID] = i
		}
		if err := l.validateServer(&server, i); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("business rule validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateServer checks transport-specific requirements.
func (l *Loader) validateServer(server *ServerConfig, index int) error {
	prefix := fmt.Sprintf("servers[%d]", index)

	switch server.Type {
	case "stdio":
		if len(server.Command) == 0 {
			return fmt.Errorf("%s: command is required for stdio type", prefix)
		}
	case "http", "sse":
		if server.URL == "" {
			return fmt.Errorf("%s: url is required for %s type", prefix, server.Type)
		}
	default:
		return fmt.Errorf("%s: invalid type '%s', must be one of: stdio, http, sse", prefix, server.Type)
	}

	return nil
}

// GetString returns a string configuration value
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetDuration returns a duration configuration value
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Package config loads skyclock settings from .skyclock.yaml, SKYCLOCK_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Keys understood in the config file and as SKYCLOCK_<KEY> variables.
const (
	KeyServer          = "server"
	KeyEditUpdateDelay = "edit_update_delay"
	KeyPollInterval    = "poll_interval"
	KeyRequestTimeout  = "request_timeout"
	KeyDB              = "db"
	KeyLogLevel        = "log_level"
	KeyOTLPEndpoint    = "otlp_endpoint"
)

// Config is the validated runtime configuration.
type Config struct {
	Server          string        `mapstructure:"server" validate:"required,url,httpurl"`
	EditUpdateDelay time.Duration `mapstructure:"edit_update_delay" validate:"gte=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	DB              string        `mapstructure:"db" validate:"required"`
	LogLevel        string        `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	OTLPEndpoint    string        `mapstructure:"otlp_endpoint" validate:"omitempty,url"`
}

// NewViper returns a viper instance with skyclock defaults and environment
// binding in place. Callers may bind flags before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyServer, "http://localhost:8090")
	v.SetDefault(KeyEditUpdateDelay, "500ms")
	v.SetDefault(KeyPollInterval, "1s")
	v.SetDefault(KeyRequestTimeout, "5s")
	v.SetDefault(KeyDB, "~/.skyclock/journal.db")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyOTLPEndpoint, "")

	v.SetEnvPrefix("SKYCLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and returns the merged, validated config.
// An explicit file must exist; otherwise .skyclock.yaml is looked up in
// the working directory and then the home directory, and may be absent.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".skyclock") // .yaml is implicit
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	db, err := homedir.Expand(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db path: %w", err)
	}
	if db != "" {
		cfg.DB = filepath.Clean(db)
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile reports the file Load read, or "" when defaults were used.
func ConfigFile(v *viper.Viper) string { return v.ConfigFileUsed() }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
	})
	return v
}

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetEnv() string
	GetAppName() string
	GetAPIURL() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Session
	Store
}

var _ Config = mainConfig{}

// values mirrors the configuration file layout
type values struct {
	Env      string `mapstructure:"env" validate:"oneof=DEV TEST PROD"`
	AppName  string `mapstructure:"app_name" validate:"required"`
	APIURL   string `mapstructure:"api_url" validate:"required,url"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	Session sessionValues `mapstructure:"session"`
	Store   storeValues   `mapstructure:"store"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New loads configuration from defaults, the optional config file and REVIEWCTL_* environment
// variables, in increasing order of precedence. configFile may be empty.
func New(configFile string) (Config, error) {
	v := viper.New()
	InitViper(v, configFile)
	return FromViper(v)
}

// FromViper builds a Config from an already initialised viper instance, e.g. one with
// command-line flags bound to it
func FromViper(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var vals values
	if err := v.Unmarshal(&vals); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	vals.Env = strings.ToUpper(vals.Env)
	vals.LogLevel = strings.ToLower(vals.LogLevel)
	vals.Store.Backend = strings.ToLower(vals.Store.Backend)

	if err := validate.Struct(vals); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return mainConfig{
		EnvVars: EnvVars{vals: vals},
		Session: Session{vals: vals.Session},
		Store:   Store{vals: vals.Store},
	}, nil
}

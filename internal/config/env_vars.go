package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "REVIEWCTL"
	configFileName = "reviewctl"

	envKey      = "env"
	appNameKey  = "app_name"
	apiURLKey   = "api_url"
	logLevelKey = "log_level"
)

type EnvVars struct {
	vals values
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetEnv() string {
	return e.vals.Env
}

func (e EnvVars) GetAppName() string {
	return e.vals.AppName
}

// GetAPIURL returns the base URL of the review site API (e.g., "https://api.example.com/v1")
func (e EnvVars) GetAPIURL() string {
	return strings.TrimRight(e.vals.APIURL, "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.vals.LogLevel
}

// InitViper registers defaults, the config file and environment variable support on v.
// REVIEWCTL_SESSION_THRESHOLD overrides session.threshold.
func InitViper(v *viper.Viper, configFile string) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// every key needs a default so AutomaticEnv can find it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault(envKey, "DEV")
	v.SetDefault(appNameKey, "reviewctl")
	v.SetDefault(apiURLKey, "http://localhost:8080/api")
	v.SetDefault(logLevelKey, "info")
	setSessionDefaults(v)
	setStoreDefaults(v)
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".reviewctl")}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/reviewctl")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configFileName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

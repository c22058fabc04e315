package config

import "github.com/spf13/viper"

const (
	StoreBackendFile   = "file"
	StoreBackendRedis  = "redis"
	StoreBackendSQLite = "sqlite"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetStorePath() string
	GetRedisAddr() string
	GetRedisPrefix() string
}

type storeValues struct {
	Backend     string `mapstructure:"backend" validate:"oneof=file redis sqlite"`
	Path        string `mapstructure:"path" validate:"required_if=Backend sqlite"`
	RedisAddr   string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type Store struct {
	vals storeValues
}

var _ StoreConfig = Store{}

func setStoreDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", StoreBackendFile)
	v.SetDefault("store.path", "") // file backend falls back to $HOME/.reviewctl/credentials.json
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_prefix", "reviewctl:credentials")
}

// GetStoreBackend is one of file, redis or sqlite
func (s Store) GetStoreBackend() string {
	return s.vals.Backend
}

// GetStorePath is the credentials file for the file backend or the database for sqlite
func (s Store) GetStorePath() string {
	return s.vals.Path
}

func (s Store) GetRedisAddr() string {
	return s.vals.RedisAddr
}

func (s Store) GetRedisPrefix() string {
	return s.vals.RedisPrefix
}

package config

import (
	"time"

	"github.com/spf13/viper"
)

type SessionConfig interface {
	GetRenewalThreshold() time.Duration
	GetRenewalTimeout() time.Duration
	GetLogoutGrace() time.Duration
	GetRequestTimeout() time.Duration
}

type sessionValues struct {
	Threshold      time.Duration `mapstructure:"threshold" validate:"gt=0"`
	RenewalTimeout time.Duration `mapstructure:"renewal_timeout" validate:"gt=0"`
	LogoutGrace    time.Duration `mapstructure:"logout_grace" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

type Session struct {
	vals sessionValues
}

var _ SessionConfig = Session{}

func setSessionDefaults(v *viper.Viper) {
	v.SetDefault("session.threshold", 2*time.Minute)
	v.SetDefault("session.renewal_timeout", 10*time.Second)
	v.SetDefault("session.logout_grace", time.Duration(0)) // clear immediately
	v.SetDefault("session.request_timeout", 30*time.Second)
}

// GetRenewalThreshold is how long before expiry an access token is renewed
func (s Session) GetRenewalThreshold() time.Duration {
	return s.vals.Threshold
}

func (s Session) GetRenewalTimeout() time.Duration {
	return s.vals.RenewalTimeout
}

func (s Session) GetLogoutGrace() time.Duration {
	return s.vals.LogoutGrace
}

func (s Session) GetRequestTimeout() time.Duration {
	return s.vals.RequestTimeout
}

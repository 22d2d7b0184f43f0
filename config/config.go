// Package config loads the proxy's runtime configuration from the
// environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every knob the proxy needs at startup. CLI flags parsed in
// cmd/warp override whatever envconfig populates here.
type Config struct {
	Debug          bool          `envconfig:"WARP_DEBUG"`
	ListenAddress  string        `envconfig:"PORT" default:"3001"`
	IPV6           bool          `envconfig:"WARP_IPV6"`
	RequestTimeout time.Duration `envconfig:"WARP_REQUEST_TIMEOUT" default:"30s"`
	FollowRedirect bool          `envconfig:"WARP_FOLLOW_REDIRECTS" default:"true"`
	MaxRedirects   int           `envconfig:"WARP_MAX_REDIRECTS" default:"5"`
	ProxyEnv       bool          `envconfig:"WARP_PROXY_ENV"`
	Proxy          string        `envconfig:"WARP_PROXY"`
	Socks5         string        `envconfig:"WARP_SOCKS5"`
}

// Load reads the environment into a Config with defaults applied. Errors
// only when a value fails to parse (e.g. a malformed duration).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if cfg.ListenAddress != "" && cfg.ListenAddress[0] != ':' && isDigits(cfg.ListenAddress) {
		// PORT is conventionally a bare number; normalize to a bind address.
		cfg.ListenAddress = ":" + cfg.ListenAddress
	}
	return cfg, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

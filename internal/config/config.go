// Package config loads trojanlite's configuration via viper, accepting
// JSON, YAML, or TOML files (and environment variable overrides prefixed
// TROJANLITE_), and fills in the same sensible defaults the original
// hand-rolled JSON loader did.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects whether this process runs as a Trojan client or server.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// Transport selects the wire transport used between client and server.
type Transport string

const (
	TransportTLS  Transport = "tls"
	TransportQUIC Transport = "quic"
)

// Config is the fully-resolved set of knobs trojanlite runs with.
type Config struct {
	Mode   Mode      `mapstructure:"mode"`
	Listen string    `mapstructure:"listen"`
	Remote string    `mapstructure:"remote"`

	Password string `mapstructure:"password"`

	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	SNI      string `mapstructure:"sni"`

	// FallbackAddr is where the server relays a connection whose password
	// doesn't check out, so a probe sees a plausible plain site instead
	// of a connection reset.
	FallbackAddr string `mapstructure:"fallback_addr"`

	LiteTLS   bool      `mapstructure:"lite_tls"`
	Transport Transport `mapstructure:"transport"`

	HandshakeTimeoutSeconds int `mapstructure:"handshake_timeout_seconds"`
	IdleTimeoutSeconds      int `mapstructure:"idle_timeout_seconds"`

	LogLevel string `mapstructure:"log_level"`
}

// HandshakeTimeout and IdleTimeout convert the config's second counts into
// time.Duration for callers that need one.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeClient))
	v.SetDefault("lite_tls", true)
	v.SetDefault("transport", string(TransportTLS))
	v.SetDefault("handshake_timeout_seconds", 10)
	v.SetDefault("idle_timeout_seconds", 600)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from path (if non-empty), environment
// variables prefixed TROJANLITE_, and the defaults above, in that
// precedence order (env overrides file, file overrides defaults).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("trojanlite")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Mode != ModeClient && c.Mode != ModeServer {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeClient, ModeServer, c.Mode)
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Password == "" {
		return fmt.Errorf("config: password is required")
	}
	if c.Mode == ModeServer {
		if c.CertFile == "" || c.KeyFile == "" {
			return fmt.Errorf("config: server mode requires cert_file and key_file")
		}
	} else if c.Remote == "" {
		return fmt.Errorf("config: client mode requires a remote address")
	}
	if c.Transport != TransportTLS && c.Transport != TransportQUIC {
		return fmt.Errorf("config: transport must be %q or %q, got %q", TransportTLS, TransportQUIC, c.Transport)
	}
	return nil
}

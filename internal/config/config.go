package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "ATTENDMEET"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	// TrustIdentityHeader accepts X-Authenticated-Identity. Only enable it
	// behind a proxy that strips the header from client requests.
	TrustIdentityHeader bool `mapstructure:"trust_identity_header"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`

	Verification VerificationConfig `mapstructure:"verification"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Chat         ChatConfig         `mapstructure:"chat"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type VerificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Roles          []string      `mapstructure:"roles"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	Interval       time.Duration `mapstructure:"interval"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
}

type GatewayConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReferenceDir string        `mapstructure:"reference_dir"`
	StagingDir   string        `mapstructure:"staging_dir"`
}

type LedgerConfig struct {
	DSN     string `mapstructure:"dsn"`
	LogPath string `mapstructure:"log_path"`
}

type ChatConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("trust_identity_header", false)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.roles", []string{string(domain.RoleStudent)})
	v.SetDefault("verification.initial_delay", "30s")
	v.SetDefault("verification.interval", "5m")
	v.SetDefault("verification.capture_timeout", "10s")

	v.SetDefault("gateway.url", "http://localhost:5000/verify")
	v.SetDefault("gateway.timeout", "5s")
	v.SetDefault("gateway.reference_dir", "./data/references")
	v.SetDefault("gateway.staging_dir", "./data/staging")

	v.SetDefault("ledger.dsn", "./data/attendance.db")
	v.SetDefault("ledger.log_path", "./data/attendance.log")

	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "10s")
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// ATTENDMEET_* environment variables override the file, e.g.
// ATTENDMEET_GATEWAY_URL for gateway.url.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Bool("verification", cfg.Verification.Enabled).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"ping_period":   c.PingPeriod,
		"pong_wait":     c.PongWait,
		"write_wait":    c.WriteWait,
		"chat.interval": c.Chat.RateInterval,
	}
	if c.Verification.Enabled {
		positive["verification.initial_delay"] = c.Verification.InitialDelay
		positive["verification.interval"] = c.Verification.Interval
		positive["verification.capture_timeout"] = c.Verification.CaptureTimeout
		positive["gateway.timeout"] = c.Gateway.Timeout
		if c.Gateway.URL == "" {
			errs = append(errs, errors.New("gateway.url is required when verification is enabled"))
		}
		if _, err := c.Verification.RoleSet(); err != nil {
			errs = append(errs, err)
		}
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	if c.Ledger.DSN == "" || c.Ledger.LogPath == "" {
		errs = append(errs, errors.New("ledger.dsn and ledger.log_path are required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RoleSet parses the roles that get verified.
func (v VerificationConfig) RoleSet() ([]domain.Role, error) {
	roles := make([]domain.Role, 0, len(v.Roles))
	for _, raw := range v.Roles {
		r, err := domain.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("verification.roles: %w: %q", err, raw)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		ice := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}

// Package config loads server settings from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"port"`
	HTTPPort   string `mapstructure:"http_port"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
	RequireTLS bool   `mapstructure:"require_tls"`
	// AllowedOrigins is a comma separated list of browser origins allowed
	// to open the WebSocket; "*" allows any. Empty means same host only.
	AllowedOrigins string `mapstructure:"allowed_origins"`

	StoreDriver       string        `mapstructure:"store_driver"`
	MongoURI          string        `mapstructure:"mongodb_uri"`
	MongoDatabase     string        `mapstructure:"mongodb_database"`
	PostgresDSN       string        `mapstructure:"postgres_dsn"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MessageWindow     int           `mapstructure:"message_window"`
	FoldEmailCase     bool          `mapstructure:"fold_email_case"`
	ErrorDismissAfter time.Duration `mapstructure:"error_dismiss_after"`

	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTKeys      string        `mapstructure:"jwt_keys"`
	JWTActiveKid string        `mapstructure:"jwt_active_kid"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	RateLimitRPM int           `mapstructure:"rate_limit_rpm"`

	IDPIssuer           string `mapstructure:"idp_issuer"`
	IDPAudience         string `mapstructure:"idp_audience"`
	IDPHMACKeys         string `mapstructure:"idp_hmac_keys"`
	IDPRSAPublicKeyFile string `mapstructure:"idp_rsa_public_key_file"`

	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"port":                "50051",
	"http_port":           "8080",
	"require_tls":         false,
	"store_driver":        "mongodb",
	"mongodb_database":    "chat_db",
	"poll_interval":       2 * time.Second,
	"message_window":      100,
	"fold_email_case":     false,
	"error_dismiss_after": 5 * time.Second,
	"session_ttl":         24 * time.Hour,
	"rate_limit_rpm":      10,
	"amqp_exchange":       "directchat.events",
	"log_level":           "info",
	"log_format":          "json",
}

var envKeys = []string{
	"port", "http_port", "tls_cert", "tls_key", "require_tls", "allowed_origins",
	"store_driver", "mongodb_uri", "mongodb_database", "postgres_dsn", "poll_interval",
	"message_window", "fold_email_case", "error_dismiss_after",
	"jwt_secret", "jwt_keys", "jwt_active_kid", "session_ttl", "rate_limit_rpm",
	"idp_issuer", "idp_audience", "idp_hmac_keys", "idp_rsa_public_key_file",
	"amqp_url", "amqp_exchange", "otel_exporter_otlp_endpoint", "log_level", "log_format",
}

// Load reads defaults, then CONFIG_FILE if set, then the environment.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envKeys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, err
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return nil, err
	}
	return &c, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "mongodb":
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN must be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.JWTKeys == "" && c.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWTKeys != "" {
		keys, err := ParseKeys(c.JWTKeys)
		if err != nil {
			return fmt.Errorf("JWT_KEYS: %w", err)
		}
		if _, ok := keys[c.JWTActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not in JWT_KEYS", c.JWTActiveKid)
		}
	}

	if c.IDPHMACKeys == "" && c.IDPRSAPublicKeyFile == "" {
		return errors.New("either IDP_HMAC_KEYS or IDP_RSA_PUBLIC_KEY_FILE must be set")
	}
	if c.IDPHMACKeys != "" {
		if _, err := ParseKeys(c.IDPHMACKeys); err != nil {
			return fmt.Errorf("IDP_HMAC_KEYS: %w", err)
		}
	}

	if c.RequireTLS && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.MessageWindow <= 0 {
		return errors.New("MESSAGE_WINDOW must be positive")
	}
	return nil
}

// Origins splits AllowedOrigins into its entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ParseKeys parses "kid:secret,kid2:secret2". An entry without a colon is
// a secret with an empty kid.
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok {
			kid, secret = "", p
		}
		if secret == "" {
			return nil, fmt.Errorf("invalid key entry %q", p)
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		return nil, errors.New("no keys")
	}
	return keys, nil
}

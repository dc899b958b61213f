package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "50051", c.Port)
	assert.Equal(t, "mongodb", c.StoreDriver)
	assert.Equal(t, 100, c.MessageWindow)
	assert.Equal(t, 5*time.Second, c.ErrorDismissAfter)
	assert.Equal(t, 24*time.Hour, c.SessionTTL)
	assert.False(t, c.FoldEmailCase)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/chat")
	t.Setenv("MESSAGE_WINDOW", "25")
	t.Setenv("ERROR_DISMISS_AFTER", "2s")
	t.Setenv("FOLD_EMAIL_CASE", "true")
	t.Setenv("RATE_LIMIT_RPM", "30")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", c.StoreDriver)
	assert.Equal(t, "postgres://localhost/chat", c.PostgresDSN)
	assert.Equal(t, 25, c.MessageWindow)
	assert.Equal(t, 2*time.Second, c.ErrorDismissAfter)
	assert.True(t, c.FoldEmailCase)
	assert.Equal(t, 30, c.RateLimitRPM)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_driver: memory\nhttp_port: \"9090\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, "9090", c.HTTPPort)
}

func validConfig() Config {
	return Config{
		StoreDriver:   "memory",
		JWTSecret:     "secret",
		IDPHMACKeys:   "idp:secret",
		MessageWindow: 100,
	}
}

func TestValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	cases := map[string]func(*Config){
		"mongo without uri":    func(c *Config) { c.StoreDriver = "mongodb" },
		"postgres without dsn": func(c *Config) { c.StoreDriver = "postgres" },
		"unknown driver":       func(c *Config) { c.StoreDriver = "redis" },
		"no jwt secret":        func(c *Config) { c.JWTSecret = "" },
		"active kid missing":   func(c *Config) { c.JWTKeys = "k1:a,k2:b"; c.JWTActiveKid = "k3" },
		"no idp keys":          func(c *Config) { c.IDPHMACKeys = "" },
		"tls required":         func(c *Config) { c.RequireTLS = true },
		"zero window":          func(c *Config) { c.MessageWindow = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys("k1:one, k2:two,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "one", "k2": "two"}, keys)

	keys, err = ParseKeys("plain")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"": "plain"}, keys)

	_, err = ParseKeys("k1:")
	assert.Error(t, err)
	_, err = ParseKeys(" , ")
	assert.Error(t, err)
}

func TestOrigins(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example, https://admin.example ,")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://chat.example", "https://admin.example"}, c.Origins())

	assert.Empty(t, (&Config{}).Origins())
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/zoneworker/internal/config"
)

func TestRead_Defaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	c := config.FromViper(v)
	assert.False(t, c.Debug)
	assert.Equal(t, "auto", c.LogFormat)
	assert.Equal(t, "zoneworker.db", c.Database.Path)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "homeassistant", c.MQTT.DiscoveryPrefix)
	assert.Equal(t, "zoneworker", c.MQTT.ClientID)
	assert.Equal(t, 100, c.Worker.BatchSize)
	assert.Equal(t, 250*time.Millisecond, c.Worker.BatchWait)
	assert.Equal(t, 5*time.Second, c.Discovery.Timeout)
	assert.Equal(t, 5*time.Second, c.Hass.ResultTimeout)
	assert.Equal(t, 64, c.Hass.BufferSize)
	assert.Equal(t, time.Minute, c.Hass.ReconnectMax)
}

func TestRead_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
debug: true
hass:
  host: http://homeassistant.local:8123
  token: secret
mqtt:
  broker: tcp://broker:1883
worker:
  batch_wait: 1s
`), 0o600))

	v := viper.New()
	require.NoError(t, config.Read(v, file))

	c := config.FromViper(v)
	assert.True(t, c.Debug)
	assert.Equal(t, "http://homeassistant.local:8123", c.Hass.Host)
	assert.Equal(t, "secret", c.Hass.Token)
	assert.Equal(t, "tcp://broker:1883", c.MQTT.Broker)
	assert.Equal(t, time.Second, c.Worker.BatchWait)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.NoError(t, c.Validate())
}

func TestRead_Env(t *testing.T) {
	t.Setenv("ZONEWORKER_HASS_TOKEN", "from-env")
	t.Setenv("ZONEWORKER_HTTP_ADDR", ":9999")

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("hass:\n  token: from-file\n"), 0o600))

	v := viper.New()
	require.NoError(t, config.Read(v, file))

	c := config.FromViper(v)
	assert.Equal(t, "from-env", c.Hass.Token)
	assert.Equal(t, ":9999", c.HTTP.Addr)
}

func TestRead_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := config.Read(v, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() config.Config {
		var c config.Config
		c.LogFormat = "auto"
		c.Hass.Token = "token"
		c.Database.Path = "zoneworker.db"
		c.Hass.ResultTimeout = time.Second
		c.Hass.ReconnectMax = time.Minute
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "no token", mutate: func(c *config.Config) { c.Hass.Token = "" }, wantErr: "hass.token"},
		{name: "no database", mutate: func(c *config.Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "no result timeout", mutate: func(c *config.Config) { c.Hass.ResultTimeout = 0 }, wantErr: "result_timeout"},
		{name: "short reconnect", mutate: func(c *config.Config) { c.Hass.ReconnectMax = time.Millisecond }, wantErr: "reconnect_max"},
		{name: "negative wait", mutate: func(c *config.Config) { c.Worker.BatchWait = -time.Second }, wantErr: "batch_wait"},
		{name: "bad log format", mutate: func(c *config.Config) { c.LogFormat = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

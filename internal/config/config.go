package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "ZONEWORKER"

// Config is the resolved runtime configuration.
type Config struct {
	Debug     bool
	LogFormat string

	Hass struct {
		Host          string
		Token         string
		ResultTimeout time.Duration
		BufferSize    int
		ReconnectMax  time.Duration
	}
	Database struct {
		Path string
	}
	HTTP struct {
		Addr string
	}
	Metrics struct {
		Addr string
	}
	MQTT struct {
		Broker          string
		Username        string
		Password        string
		ClientID        string
		DiscoveryPrefix string
	}
	Worker struct {
		BatchSize int
		BatchWait time.Duration
	}
	Discovery struct {
		Timeout time.Duration
	}
}

// SetDefaults registers every key so environment overrides work without a
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log.format", "auto")
	v.SetDefault("hass.host", "")
	v.SetDefault("hass.token", "")
	v.SetDefault("hass.result_timeout", 5*time.Second)
	v.SetDefault("hass.buffer_size", 64)
	v.SetDefault("hass.reconnect_max", time.Minute)
	v.SetDefault("database.path", "zoneworker.db")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "zoneworker")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.batch_wait", 250*time.Millisecond)
	v.SetDefault("discovery.timeout", 5*time.Second)
}

// Read points v at the config file (or the default search path when file is
// empty) and reads it. A missing file in the search path is not an error.
func Read(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("/etc/zoneworker/")
		v.AddConfigPath("$HOME/.zoneworker")
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper builds a Config out of the values v currently holds.
func FromViper(v *viper.Viper) Config {
	var c Config
	c.Debug = v.GetBool("debug")
	c.LogFormat = v.GetString("log.format")
	c.Hass.Host = v.GetString("hass.host")
	c.Hass.Token = v.GetString("hass.token")
	c.Hass.ResultTimeout = v.GetDuration("hass.result_timeout")
	c.Hass.BufferSize = v.GetInt("hass.buffer_size")
	c.Hass.ReconnectMax = v.GetDuration("hass.reconnect_max")
	c.Database.Path = v.GetString("database.path")
	c.HTTP.Addr = v.GetString("http.addr")
	c.Metrics.Addr = v.GetString("metrics.addr")
	c.MQTT.Broker = v.GetString("mqtt.broker")
	c.MQTT.Username = v.GetString("mqtt.username")
	c.MQTT.Password = v.GetString("mqtt.password")
	c.MQTT.ClientID = v.GetString("mqtt.client_id")
	c.MQTT.DiscoveryPrefix = v.GetString("mqtt.discovery_prefix")
	c.Worker.BatchSize = v.GetInt("worker.batch_size")
	c.Worker.BatchWait = v.GetDuration("worker.batch_wait")
	c.Discovery.Timeout = v.GetDuration("discovery.timeout")
	return c
}

// Validate checks what cannot be defaulted.
func (c Config) Validate() error {
	if c.Hass.Token == "" {
		return errors.New("hass.token is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Hass.ResultTimeout <= 0 {
		return fmt.Errorf("hass.result_timeout must be positive: %s", c.Hass.ResultTimeout)
	}
	if c.Hass.ReconnectMax < time.Second {
		return fmt.Errorf("hass.reconnect_max must be at least 1s: %s", c.Hass.ReconnectMax)
	}
	if c.Worker.BatchWait < 0 {
		return fmt.Errorf("worker.batch_wait must not be negative: %s", c.Worker.BatchWait)
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log.format must be one of auto, console, json: %q", c.LogFormat)
	}
	return nil
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(c Config, out *os.File) {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = out
	if c.LogFormat == "console" || (c.LogFormat == "auto" && isatty.IsTerminal(out.Fd())) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Package config loads the pagebtn daemon configuration.
//
// Values are resolved in this order: built-in defaults, the YAML file,
// PAGEBTN_* environment variables. Button timing values that are missing or
// not positive fall back to their defaults instead of failing validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/pagebtn/config.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Button defaults.
const (
	DefaultChip          = "gpiochip0"
	DefaultLine          = 17
	DefaultLongPressMs   = 1000
	DefaultDebounceMs    = 50
	DefaultResumeAfterMs = 300000
)

// Config is the root of the YAML file.
type Config struct {
	GPIOChip      string `yaml:"gpio_chip"`
	GPIOLine      int    `yaml:"gpio_line"`
	LongPressMs   int    `yaml:"long_press_ms"`
	DebounceMs    int    `yaml:"debounce_ms"`
	ResumeAfterMs int    `yaml:"resume_after_ms"`

	// Logging is "off", "on" or "debug".
	Logging string `yaml:"logging"`
	// Debug is the deprecated boolean form of Logging: "debug".
	Debug bool `yaml:"debug"`

	GPIOMon  GPIOMonConfig  `yaml:"gpiomon"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// GPIOMonConfig controls how the edge monitor is launched.
type GPIOMonConfig struct {
	Wrapper      string `yaml:"wrapper"`
	Binary       string `yaml:"binary"`
	ShortRetryMs int    `yaml:"short_retry_ms"`
	LongRetryMs  int    `yaml:"long_retry_ms"`
	StopGraceMs  int    `yaml:"stop_grace_ms"`
}

// MQTTConfig contains broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPrefix  string `yaml:"topic_prefix"`
	HeartbeatSec int    `yaml:"heartbeat_s"`
	BufferSize   int    `yaml:"buffer_size"`
}

// InfluxDBConfig contains time series settings.
type InfluxDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// HTTPConfig contains the status server settings. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		GPIOChip:      DefaultChip,
		GPIOLine:      DefaultLine,
		LongPressMs:   DefaultLongPressMs,
		DebounceMs:    DefaultDebounceMs,
		ResumeAfterMs: DefaultResumeAfterMs,
		GPIOMon: GPIOMonConfig{
			Wrapper:      "/usr/bin/stdbuf",
			Binary:       "gpiomon",
			ShortRetryMs: 250,
			LongRetryMs:  5000,
			StopGraceMs:  2000,
		},
		MQTT: MQTTConfig{
			ClientID:     "pagebtn",
			HeartbeatSec: 900,
			BufferSize:   100,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:       100,
			FlushIntervalMs: 10000,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGEBTN_GPIO_CHIP"); v != "" {
		cfg.GPIOChip = v
	}
	if v := os.Getenv("PAGEBTN_GPIO_LINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GPIOLine = n
		}
	}
	if v := os.Getenv("PAGEBTN_LOGGING"); v != "" {
		cfg.Logging = v
	}
	if v := os.Getenv("PAGEBTN_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("PAGEBTN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("PAGEBTN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PAGEBTN_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// Validate checks the settings that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []string

	if c.GPIOMon.Binary == "" {
		errs = append(errs, "gpiomon.binary is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		errs = append(errs, "mqtt.client_id is required when mqtt.broker is set")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Monitor returns the normalized button configuration.
func (c *Config) Monitor() Monitor {
	m := Monitor{
		Chip:        DefaultChip,
		Line:        DefaultLine,
		LongPress:   DefaultLongPressMs * time.Millisecond,
		Debounce:    DefaultDebounceMs * time.Millisecond,
		ResumeAfter: DefaultResumeAfterMs * time.Millisecond,
		Verbosity:   ParseVerbosity(c.Logging, c.Debug),
	}
	if c.GPIOChip != "" {
		m.Chip = c.GPIOChip
	}
	if c.GPIOLine > 0 {
		m.Line = uint(c.GPIOLine)
	}
	if c.LongPressMs > 0 {
		m.LongPress = time.Duration(c.LongPressMs) * time.Millisecond
	}
	if c.DebounceMs > 0 {
		m.Debounce = time.Duration(c.DebounceMs) * time.Millisecond
	}
	if c.ResumeAfterMs > 0 {
		m.ResumeAfter = time.Duration(c.ResumeAfterMs) * time.Millisecond
	}
	return m
}

// Millis converts a millisecond setting, using def when ms is not positive.
func Millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Package config loads daemon configuration from defaults, an optional TOML
// file, RELAY_* environment variables (optionally from a .env file) and
// command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koding/multiconfig"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment variable, e.g. RELAY_HTTP_ADDR.
const EnvPrefix = "RELAY"

// Off disables an optional address setting.
const Off = "off"

// Config is the full daemon configuration.
type Config struct {
	Name string `default:"relay-scheduler"`
	Poll time.Duration `default:"1s"`

	// Heartbeat is the interval between HEARTBEAT events; 0 disables them.
	Heartbeat time.Duration `default:"15m"`

	// Timezone alarms are evaluated in; "Local" uses the system zone.
	Timezone string `default:"Local"`

	LogLevel  string `default:"info"`
	LogFormat string `default:"console"`
	LogFile   string

	HTTPAddr string  `default:":8080"`
	APIRate  float64 `default:"5"`
	APIBurst int     `default:"10"`

	// Store is memory, sqlite or redis.
	Store         string `default:"sqlite"`
	SQLitePath    string `default:"relay-scheduler.db"`
	RedisAddr     string `default:"localhost:6379"`
	RedisPassword string
	RedisDB       int
	RedisPrefix   string `default:"relay-scheduler:"`

	// Actuator is gpio, modbus or fake.
	Actuator      string `default:"gpio"`
	GPIOChip      string `default:"gpiochip0"`
	GPIOActiveLow bool
	ModbusAddr    string
	ModbusSlave   int `default:"1"`
	ModbusBaud    int

	// Broker is the MQTT broker URL, or "off".
	Broker   string `default:"tcp://localhost:1883"`
	ClientID string

	// EmbeddedBroker is the listen address of the embedded broker, or "off".
	EmbeddedBroker string `default:"off"`

	// Relays are created on first start when nothing is persisted, as
	// comma-separated channel:name pairs.
	Relays string `default:"26:Relay 1,25:Relay 2,33:Relay 3,32:Relay 4"`

	// PrintState prints every relay's line state and exits.
	PrintState bool
}

// Load reads configuration. dotenv and tomlPath may be empty; a missing
// dotenv file is ignored. args are the command-line flags without the
// program name.
func Load(dotenv, tomlPath string, args []string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	loaders := []multiconfig.Loader{&multiconfig.TagLoader{}}
	if tomlPath != "" {
		loaders = append(loaders, &multiconfig.TOMLLoader{Path: tomlPath})
	}
	loaders = append(loaders,
		&multiconfig.EnvironmentLoader{Prefix: EnvPrefix, CamelCase: true},
		&multiconfig.FlagLoader{CamelCase: true, Args: args},
	)

	cfg := &Config{}
	if err := multiconfig.MultiLoader(loaders...).Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want one of %s", field, v, strings.Join(allowed, ", "))
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs error
	if c.Poll <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("poll %v: must be positive", c.Poll))
	}
	if c.Poll > time.Minute {
		errs = multierr.Append(errs, fmt.Errorf("poll %v: must not exceed the 1m grace interval", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = multierr.Append(errs, fmt.Errorf("heartbeat %v: must not be negative", c.Heartbeat))
	}
	if _, err := c.Location(); err != nil {
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, oneOf("log format", c.LogFormat, "console", "json"))
	if c.APIRate <= 0 || c.APIBurst <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("api rate %v burst %d: must be positive", c.APIRate, c.APIBurst))
	}
	errs = multierr.Append(errs, oneOf("store", c.Store, "memory", "sqlite", "redis"))
	errs = multierr.Append(errs, oneOf("actuator", c.Actuator, "gpio", "modbus", "fake"))
	if c.Actuator == "modbus" && c.ModbusAddr == "" {
		errs = multierr.Append(errs, errors.New("modbus actuator needs a modbus address"))
	}
	if c.ModbusSlave < 0 || c.ModbusSlave > 247 {
		errs = multierr.Append(errs, fmt.Errorf("modbus slave %d: out of range", c.ModbusSlave))
	}
	if _, err := ParseRelays(c.Relays); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BrokerEnabled reports whether an MQTT broker URL is configured.
func (c *Config) BrokerEnabled() bool {
	return c.Broker != "" && c.Broker != Off
}

// EmbeddedBrokerEnabled reports whether the embedded broker should run.
func (c *Config) EmbeddedBrokerEnabled() bool {
	return c.EmbeddedBroker != "" && c.EmbeddedBroker != Off
}

// RelaySpec is one default relay.
type RelaySpec struct {
	Channel uint
	Name    string
}

// ParseRelays parses "26:Relay 1,25:Relay 2". An empty string yields none.
func ParseRelays(s string) ([]RelaySpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []RelaySpec
	seen := map[uint]bool{}
	for _, part := range strings.Split(s, ",") {
		ch, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("relay %q: want channel:name", part)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(ch), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("relay %q: bad channel: %w", part, err)
		}
		if seen[uint(n)] {
			return nil, fmt.Errorf("relay %q: channel %d used twice", part, n)
		}
		seen[uint(n)] = true
		out = append(out, RelaySpec{Channel: uint(n), Name: strings.TrimSpace(name)})
	}
	return out, nil
}

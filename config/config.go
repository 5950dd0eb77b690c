// Package config loads and validates the SondeAlert service
// configuration from a JSON file with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ashleyhuxley/sonde-alert/errors"
)

// Stream kind constants.
const (
	StreamKindMQTT = "mqtt"
	StreamKindNATS = "nats"
)

// Defaults applied by Load.
const (
	DefaultMQTTTopic       = "prediction/#"
	DefaultNATSSubject     = "sondehub.prediction"
	DefaultAprsURL         = "https://api.aprs.fi/api/get"
	DefaultPollSeconds     = 600
	DefaultDeliverySeconds = 5
	DefaultDedupTTLHours   = 72
	DefaultMatcherWorkers  = 4
	DefaultLogLevel        = "info"
)

// StreamConfig selects and configures the prediction stream source.
type StreamConfig struct {
	Kind        string `json:"kind"`         // "mqtt" or "nats"
	MQTTURL     string `json:"mqtt_url"`     // ws://, wss:// or tcp:// broker URL
	MQTTTopic   string `json:"mqtt_topic"`   // subscription topic filter
	NATSURL     string `json:"nats_url"`     // nats:// server URL
	NATSSubject string `json:"nats_subject"` // subscription subject
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	BotAPIKey string `json:"bot_api_key"`
}

// AprsConfig configures the aprs.fi message poll client. An empty API
// key disables the relay loop entirely.
type AprsConfig struct {
	URL                 string `json:"url"`
	APIKey              string `json:"api_key"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// Config is the complete service configuration.
type Config struct {
	Stream   StreamConfig   `json:"stream"`
	Telegram TelegramConfig `json:"telegram"`
	Aprs     AprsConfig     `json:"aprs"`

	ProfilePath             string `json:"profile_path"`
	DeliveryIntervalSeconds int    `json:"delivery_interval_seconds"`
	DedupTTLHours           int    `json:"dedup_ttl_hours"`
	MatcherWorkers          int    `json:"matcher_workers"`

	MetricsAddr string `json:"metrics_addr"` // empty disables the metrics server
	LogLevel    string `json:"log_level"`
}

// Load reads the config file at path (skipped when path is empty or the
// file does not exist), applies SONDEALERT_* environment overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only configuration
		case err != nil:
			return nil, errors.WrapFatal(err, "config", "Load", "config file read")
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapFatal(err, "config", "Load", "config file parse")
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&c.Stream.Kind, "SONDEALERT_STREAM_KIND")
	setString(&c.Stream.MQTTURL, "SONDEALERT_MQTT_URL")
	setString(&c.Stream.MQTTTopic, "SONDEALERT_MQTT_TOPIC")
	setString(&c.Stream.NATSURL, "SONDEALERT_NATS_URL")
	setString(&c.Stream.NATSSubject, "SONDEALERT_NATS_SUBJECT")
	setString(&c.Telegram.BotAPIKey, "SONDEALERT_TELEGRAM_BOT_API_KEY")
	setString(&c.Aprs.URL, "SONDEALERT_APRS_URL")
	setString(&c.Aprs.APIKey, "SONDEALERT_APRS_API_KEY")
	setInt(&c.Aprs.PollIntervalSeconds, "SONDEALERT_APRS_POLL_SECONDS")
	setString(&c.ProfilePath, "SONDEALERT_PROFILE_PATH")
	setInt(&c.DeliveryIntervalSeconds, "SONDEALERT_DELIVERY_SECONDS")
	setInt(&c.DedupTTLHours, "SONDEALERT_DEDUP_TTL_HOURS")
	setInt(&c.MatcherWorkers, "SONDEALERT_MATCHER_WORKERS")
	setString(&c.MetricsAddr, "SONDEALERT_METRICS_ADDR")
	setString(&c.LogLevel, "SONDEALERT_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.Stream.Kind == "" {
		c.Stream.Kind = StreamKindMQTT
	}
	if c.Stream.MQTTTopic == "" {
		c.Stream.MQTTTopic = DefaultMQTTTopic
	}
	if c.Stream.NATSSubject == "" {
		c.Stream.NATSSubject = DefaultNATSSubject
	}
	if c.Aprs.URL == "" {
		c.Aprs.URL = DefaultAprsURL
	}
	if c.Aprs.PollIntervalSeconds <= 0 {
		c.Aprs.PollIntervalSeconds = DefaultPollSeconds
	}
	if c.DeliveryIntervalSeconds <= 0 {
		c.DeliveryIntervalSeconds = DefaultDeliverySeconds
	}
	if c.DedupTTLHours <= 0 {
		c.DedupTTLHours = DefaultDedupTTLHours
	}
	if c.MatcherWorkers <= 0 {
		c.MatcherWorkers = DefaultMatcherWorkers
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate enforces the required configuration surface. Failures are
// fatal: the process must not start on an incomplete config.
func (c *Config) Validate() error {
	switch c.Stream.Kind {
	case StreamKindMQTT:
		if c.Stream.MQTTURL == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: stream.mqtt_url", errors.ErrMissingConfig),
				"config", "Validate", "stream validation")
		}
	case StreamKindNATS:
		if c.Stream.NATSURL == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: stream.nats_url", errors.ErrMissingConfig),
				"config", "Validate", "stream validation")
		}
	default:
		return errors.WrapFatal(
			fmt.Errorf("%w: stream.kind must be %q or %q, got %q",
				errors.ErrInvalidConfig, StreamKindMQTT, StreamKindNATS, c.Stream.Kind),
			"config", "Validate", "stream validation")
	}

	if c.Telegram.BotAPIKey == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: telegram.bot_api_key", errors.ErrMissingConfig),
			"config", "Validate", "telegram validation")
	}
	if c.ProfilePath == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: profile_path", errors.ErrMissingConfig),
			"config", "Validate", "profile validation")
	}
	return nil
}

// RelayEnabled reports whether the APRS relay loop should run.
func (c *Config) RelayEnabled() bool {
	return c.Aprs.APIKey != ""
}

// Package config loads the static node configuration: own and peer radio
// addresses, channel parameters, the low-power policy and the ground-side
// sinks. The configuration is read once at startup and passed by value into
// the radio link and the controllers; there are no process-wide mutable
// settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full node configuration. Radio is shared by both binaries;
// SatKit and Ground apply to their respective nodes only.
type Config struct {
	AppEnv   string     `yaml:"-"`
	LogLevel slog.Level `yaml:"-"`

	Radio  Radio  `yaml:"radio"`
	SatKit SatKit `yaml:"satkit"`
	Ground Ground `yaml:"ground"`
}

// Radio selects the modem and the channel parameters. Address and
// PeerAddress must differ; both builds must agree on the channel.
type Radio struct {
	Port            string `yaml:"port"`
	BaudRate        int    `yaml:"baud_rate"`
	Address         uint8  `yaml:"address"`
	PeerAddress     uint8  `yaml:"peer_address"`
	NetworkID       uint8  `yaml:"network_id"`
	FrequencyHz     uint32 `yaml:"frequency_hz"`
	SpreadingFactor uint8  `yaml:"spreading_factor"`
	Bandwidth       uint8  `yaml:"bandwidth"`
	CodingRate      uint8  `yaml:"coding_rate"`
	Preamble        uint8  `yaml:"preamble"`
	TxPowerDBm      int    `yaml:"tx_power_dbm"`
}

// SatKit shapes the satellite's transmission cycle.
type SatKit struct {
	CycleInterval          Duration       `yaml:"cycle_interval"`
	ListenWindow           Duration       `yaml:"listen_window"`
	TransmitRetries        int            `yaml:"transmit_retries"`
	ReassemblyWindowCycles int            `yaml:"reassembly_window_cycles"`
	LowPower               LowPowerPolicy `yaml:"low_power"`
}

// LowPowerPolicy is applied while the satellite is in low-power mode.
type LowPowerPolicy struct {
	CycleInterval Duration `yaml:"cycle_interval"`
	SkipListen    bool     `yaml:"skip_listen"`
}

// Ground shapes the ground station loop and its consumer sinks.
type Ground struct {
	ReceiveTimeout         Duration `yaml:"receive_timeout"`
	ReassemblyWindowCycles int      `yaml:"reassembly_window_cycles"`
	CommandRetries         int      `yaml:"command_retries"`
	AckTimeout             Duration `yaml:"ack_timeout"`
	StatusInterval         Duration `yaml:"status_interval"`

	MQTT   MQTT   `yaml:"mqtt"`
	Store  Store  `yaml:"store"`
	Influx Influx `yaml:"influx"`
}

// MQTT is the operator-facing publish/uplink surface.
type MQTT struct {
	Enabled        bool   `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	Port           int    `yaml:"port"`
	ClientID       string `yaml:"client_id"`
	TelemetryTopic string `yaml:"telemetry_topic"`
	CommandTopic   string `yaml:"command_topic"`
}

// Store is the local telemetry history database.
type Store struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Influx is an optional time-series sink.
type Influx struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Load reads the YAML file at path, fills defaults, applies APP_ENV and
// LOG_LEVEL from the environment and validates the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}
	cfg.AppEnv = appEnv

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// defaultConfig is the starting point for Load. Unmarshalling over it means
// absent keys keep their default while explicit values, including zeroes,
// stick.
func defaultConfig() Config {
	return Config{
		Radio: Radio{
			BaudRate:        115200,
			NetworkID:       6,
			FrequencyHz:     868000000,
			SpreadingFactor: 9,
			Bandwidth:       7,
			CodingRate:      1,
			Preamble:        4,
			TxPowerDBm:      14,
		},
		SatKit: SatKit{
			CycleInterval:          Duration(2 * time.Second),
			ListenWindow:           Duration(500 * time.Millisecond),
			TransmitRetries:        2,
			ReassemblyWindowCycles: 5,
			LowPower: LowPowerPolicy{
				CycleInterval: Duration(10 * time.Second),
			},
		},
		Ground: Ground{
			ReceiveTimeout:         Duration(250 * time.Millisecond),
			ReassemblyWindowCycles: 40,
			AckTimeout:             Duration(2 * time.Second),
			StatusInterval:         Duration(10 * time.Second),
			MQTT: MQTT{
				Broker:         "localhost",
				Port:           1883,
				ClientID:       "manha-groundstation",
				TelemetryTopic: "manha/telemetry",
				CommandTopic:   "manha/commands",
			},
			Store: Store{
				Path: "manha.db",
			},
		},
	}
}

func (c *Config) validate() error {
	if c.Radio.Address == c.Radio.PeerAddress {
		return fmt.Errorf("radio address and peer_address must differ, both are %d", c.Radio.Address)
	}
	if c.SatKit.TransmitRetries < 0 {
		return fmt.Errorf("satkit transmit_retries must not be negative")
	}
	if c.Ground.CommandRetries < 0 {
		return fmt.Errorf("ground command_retries must not be negative")
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative, got %v", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

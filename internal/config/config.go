package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration.
type Config struct {
	// Serial link to the rack controller
	Serial SerialConfig `yaml:"serial" toml:"serial" json:"serial"`

	// Rack shape and poll timing
	Rack RackConfig `yaml:"rack" toml:"rack" json:"rack"`

	// Output slot wiring
	Outputs OutputsConfig `yaml:"outputs" toml:"outputs" json:"outputs"`

	// Sinks
	MQTT  MQTTConfig  `yaml:"mqtt" toml:"mqtt" json:"mqtt"`
	Redis RedisConfig `yaml:"redis" toml:"redis" json:"redis"`

	// HTTP / WebSocket
	Server ServerConfig `yaml:"server" toml:"server" json:"server"`

	// CSV cycle history
	History HistoryConfig `yaml:"history" toml:"history" json:"history"`

	path string
}

type SerialConfig struct {
	Type     string `yaml:"type" toml:"type" json:"type"`              // "serial" or "demo"
	PortPath string `yaml:"port_path" toml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate" json:"baudRate"`
	DataBits int    `yaml:"data_bits" toml:"data_bits" json:"dataBits"`
	Parity   string `yaml:"parity" toml:"parity" json:"parity"` // "none", "even", "odd"
	StopBits int    `yaml:"stop_bits" toml:"stop_bits" json:"stopBits"`
}

type RackConfig struct {
	NumBatteries   int           `yaml:"num_batteries" toml:"num_batteries" json:"numBatteries"` // 1..16
	CapacityAh     float64       `yaml:"capacity_ah" toml:"capacity_ah" json:"capacityAh"`       // informational
	UpdateInterval time.Duration `yaml:"update_interval" toml:"update_interval" json:"updateInterval"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout" json:"requestTimeout"`
	CommandDelay   time.Duration `yaml:"command_delay" toml:"command_delay" json:"commandDelay"`
	LinkDownAfter  int           `yaml:"link_down_after" toml:"link_down_after" json:"linkDownAfter"` // failed cycles
	DeriveSummary  bool          `yaml:"derive_summary" toml:"derive_summary" json:"deriveSummary"`
	Checksum       string        `yaml:"checksum" toml:"checksum" json:"checksum"` // "sum" or "crc16"
}

// SlotMap wires output slots to entity names, e.g. voltage: rack_voltage.
// Slots left out are not published.
type SlotMap map[string]string

type OutputsConfig struct {
	TemperatureUnit string    `yaml:"temperature_unit" toml:"temperature_unit" json:"temperatureUnit"` // "C" or "F"
	Summary         SlotMap   `yaml:"summary" toml:"summary" json:"summary"`
	Batteries       []SlotMap `yaml:"batteries" toml:"batteries" json:"batteries"` // index 0 is battery 1
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" toml:"broker" json:"broker"` // tcp://host:1883
	ClientID    string `yaml:"client_id" toml:"client_id" json:"clientId"`
	Username    string `yaml:"username" toml:"username" json:"username"`
	Password    string `yaml:"password" toml:"password" json:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix" json:"topicPrefix"`
	QoS         int    `yaml:"qos" toml:"qos" json:"qos"`
	Retain      bool   `yaml:"retain" toml:"retain" json:"retain"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" toml:"addr" json:"addr"`
	Password  string `yaml:"password" toml:"password" json:"password,omitempty"`
	DB        int    `yaml:"db" toml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix" json:"keyPrefix"`
	Channel   string `yaml:"channel" toml:"channel" json:"channel"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr" json:"listenAddr"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path" toml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" toml:"max_rows" json:"maxRows"` // rotate after this many rows
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Type:     "serial",
			PortPath: "/dev/ttyUSB0",
			BaudRate: 115200,
			DataBits: 8,
			Parity:   "none",
			StopBits: 1,
		},
		Rack: RackConfig{
			NumBatteries:   6,
			CapacityAh:     100,
			UpdateInterval: 30 * time.Second,
			RequestTimeout: 5 * time.Second,
			CommandDelay:   50 * time.Millisecond,
			LinkDownAfter:  3,
			Checksum:       "sum",
		},
		Outputs: OutputsConfig{
			TemperatureUnit: "C",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "pytes-bridge",
			TopicPrefix: "pytes",
			QoS:         1,
			Retain:      true,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pytes",
			Channel:   "pytes",
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		History: HistoryConfig{
			Path:    "/var/log/pytes-bridge",
			MaxRows: 100_000,
		},
	}
}

// Load reads config from a YAML or TOML file (by extension), then applies
// .env and environment variable overrides. A missing file yields defaults;
// a file that does not parse is an error. The result is validated and
// normalized.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err != nil && os.IsNotExist(err):
		log.Printf("[config] no config at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		log.Printf("[config] loaded from %s", path)
	}

	// .env next to the config, then in CWD; real env takes precedence.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if _, err := os.Stat(ep); err != nil {
			continue
		}
		if err := godotenv.Load(ep); err != nil {
			log.Printf("[config] .env %s: %v", ep, err)
			continue
		}
		log.Printf("[config] loaded .env from %s", ep)
	}

	cfg.applyEnvOverrides()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: PYTES_TYPE, PYTES_PORT, PYTES_BAUD, PYTES_BATTERIES,
// PYTES_INTERVAL, PYTES_CHECKSUM, TEMP_UNIT, MQTT_BROKER, MQTT_USERNAME,
// MQTT_PASSWORD, REDIS_ADDR, REDIS_PASSWORD, LISTEN_ADDR, HISTORY_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PYTES_TYPE"); v != "" {
		c.Serial.Type = v
	}
	if v := os.Getenv("PYTES_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("PYTES_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("PYTES_BATTERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Rack.NumBatteries = n
		}
	}
	if v := os.Getenv("PYTES_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Rack.UpdateInterval = d
		}
	}
	if v := os.Getenv("PYTES_CHECKSUM"); v != "" {
		c.Rack.Checksum = v
	}
	if v := os.Getenv("TEMP_UNIT"); v != "" {
		c.Outputs.TemperatureUnit = v
	}
	// MQTT
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	// Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
		c.History.Enabled = true
	}
}

// Path is the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// ToJSON serializes config for the API with secrets removed.
func (c *Config) ToJSON() ([]byte, error) {
	redacted := *c
	redacted.MQTT.Password = ""
	redacted.Redis.Password = ""
	return json.Marshal(redacted)
}

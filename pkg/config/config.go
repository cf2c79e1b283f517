// Package config holds the node configuration: loop cadence, per-sensor
// tunables, uplink and queue settings. Values load from a YAML file and
// fall back to defaults field by field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the node configuration.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Particulate ParticulateConfig `yaml:"particulate"`
	TempRH      TempRHConfig      `yaml:"temp_rh"`
	VOC         VOCConfig         `yaml:"voc"`
	Uplink      UplinkConfig      `yaml:"uplink"`
	Queue       QueueConfig       `yaml:"queue"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Mock        MockConfig        `yaml:"mock"`
}

// NodeConfig contains measurement-loop parameters.
type NodeConfig struct {
	Tick          time.Duration `yaml:"tick"`            // scheduler tick period
	Interval      time.Duration `yaml:"interval"`        // cycle cadence
	MaxPowerWait  time.Duration `yaml:"max_power_wait"`  // powering phase bound
	SampleTimeout time.Duration `yaml:"sample_timeout"`  // sampling phase bound
	PowerSave     bool          `yaml:"power_save"`      // power sensors down between cycles
	AutoRun       bool          `yaml:"auto_run"`        // start active without a run command
	DebugMask     uint32        `yaml:"debug_mask"`      // initial log verbosity bits
}

// ParticulateConfig contains the particulate sensor's tunables.
type ParticulateConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Port      string        `yaml:"port"`      // serial port, e.g. /dev/ttyS1
	BaudRate  int           `yaml:"baud_rate"`
	Warmup    time.Duration `yaml:"warmup"`     // fan/laser settle time
	MinFrames int           `yaml:"min_frames"` // frames averaged per reading
}

// TempRHConfig contains the temperature/humidity sensor's tunables.
type TempRHConfig struct {
	Enabled bool `yaml:"enabled"`
}

// VOCConfig contains the VOC/eCO2 sensor's tunables.
type VOCConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Baseline    time.Duration `yaml:"baseline"`     // baseline learning time
	SampleEvery time.Duration `yaml:"sample_every"` // the sensor's own cadence
}

// UplinkConfig contains the uplink gateway settings. An empty broker
// selects the mock gateway.
type UplinkConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Topic       string        `yaml:"topic"`
	QoS         int           `yaml:"qos"`
	MaxPayload  int           `yaml:"max_payload"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// QueueConfig contains the pending-queue bounds.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// MetricsConfig controls the Prometheus endpoint. Empty listen address
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// MockConfig contains the simulated-device values used when running
// without hardware.
type MockConfig struct {
	Devices       bool          `yaml:"devices"` // use mock sensor devices
	FrameInterval time.Duration `yaml:"frame_interval"`
	PM1p0         uint16        `yaml:"pm1_0"`
	PM2p5         uint16        `yaml:"pm2_5"`
	PM10          uint16        `yaml:"pm10"`
	TempC         float32       `yaml:"temp_c"`
	RH            float32       `yaml:"rh"`
	TVOC          uint16        `yaml:"tvoc"`
	ECO2          uint16        `yaml:"eco2"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Tick:          100 * time.Millisecond,
			Interval:      time.Minute,
			MaxPowerWait:  35 * time.Second,
			SampleTimeout: 10 * time.Second,
			PowerSave:     true,
			AutoRun:       true,
		},
		Particulate: ParticulateConfig{
			Enabled:   true,
			Port:      "/dev/ttyS1",
			BaudRate:  9600,
			Warmup:    30 * time.Second,
			MinFrames: 4,
		},
		TempRH: TempRHConfig{
			Enabled: true,
		},
		VOC: VOCConfig{
			Enabled:     true,
			Baseline:    3 * time.Minute,
			SampleEvery: 2 * time.Minute,
		},
		Uplink: UplinkConfig{
			ClientID:    "aqnode",
			Topic:       "aqnode/uplink",
			QoS:         1,
			MaxPayload:  51,
			SendTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 32,
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Mock: MockConfig{
			Devices:       false,
			FrameInterval: time.Second,
			PM1p0:         4,
			PM2p5:         7,
			PM10:          10,
			TempC:         21.5,
			RH:            45.0,
			TVOC:          120,
			ECO2:          420,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist
// or fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Node.Tick <= 0 {
		c.Node.Tick = def.Node.Tick
	}
	if c.Node.Interval <= 0 {
		c.Node.Interval = def.Node.Interval
	}
	if c.Node.MaxPowerWait <= 0 {
		c.Node.MaxPowerWait = def.Node.MaxPowerWait
	}
	if c.Node.SampleTimeout <= 0 {
		c.Node.SampleTimeout = def.Node.SampleTimeout
	}

	if c.Particulate.Port == "" {
		c.Particulate.Port = def.Particulate.Port
	}
	if c.Particulate.BaudRate == 0 {
		c.Particulate.BaudRate = def.Particulate.BaudRate
	}
	if c.Particulate.Warmup <= 0 {
		c.Particulate.Warmup = def.Particulate.Warmup
	}
	if c.Particulate.MinFrames <= 0 {
		c.Particulate.MinFrames = def.Particulate.MinFrames
	}

	if c.VOC.Baseline <= 0 {
		c.VOC.Baseline = def.VOC.Baseline
	}
	if c.VOC.SampleEvery <= 0 {
		c.VOC.SampleEvery = def.VOC.SampleEvery
	}

	if c.Uplink.ClientID == "" {
		c.Uplink.ClientID = def.Uplink.ClientID
	}
	if c.Uplink.Topic == "" {
		c.Uplink.Topic = def.Uplink.Topic
	}
	if c.Uplink.MaxPayload <= 0 {
		c.Uplink.MaxPayload = def.Uplink.MaxPayload
	}
	if c.Uplink.SendTimeout <= 0 {
		c.Uplink.SendTimeout = def.Uplink.SendTimeout
	}

	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = def.Queue.Capacity
	}

	if c.Mock.FrameInterval <= 0 {
		c.Mock.FrameInterval = def.Mock.FrameInterval
	}
}

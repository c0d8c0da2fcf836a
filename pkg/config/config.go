// Package config defines the station configuration and the shared store
// all activities mutate it through.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capceri/Tube-measurement/pkg/convert"
)

// MMPerInch converts between the HMI's inch wire unit and the internal
// millimeter unit.
const MMPerInch = 25.4

// NumChannels is the number of sensor-hub ports the station samples.
const NumChannels = 8

// InchesToMM converts inches to millimeters.
func InchesToMM(v float64) float64 { return v * MMPerInch }

// MMToInches converts millimeters to inches.
func MMToInches(v float64) float64 { return v / MMPerInch }

// Targets holds the pass/fail criteria. All values are millimeters.
type Targets struct {
	D1Target  float64 `yaml:"d1_target" json:"d1_target"`
	D1Tol     float64 `yaml:"d1_tol" json:"d1_tol"`
	D2Target  float64 `yaml:"d2_target" json:"d2_target"`
	D2Tol     float64 `yaml:"d2_tol" json:"d2_tol"`
	LenTarget float64 `yaml:"len_target" json:"len_target"`
	LenTol    float64 `yaml:"len_tol" json:"len_tol"`
	DDeltaMax float64 `yaml:"ddelta_max" json:"ddelta_max"`
	End1Max   float64 `yaml:"end1_max" json:"end1_max"`
	End2Max   float64 `yaml:"end2_max" json:"end2_max"`
}

// HMIConfig contains the serial link settings for the touchscreen.
type HMIConfig struct {
	SerialPort string `yaml:"serial_port" json:"serial_port"`
	Baud       int    `yaml:"baud" json:"baud"`
}

// WebConfig contains the status API settings.
type WebConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Config represents the full station configuration.
type Config struct {
	HubAddress     string                  `yaml:"hub_address" json:"hub_address"`
	PollInterval   time.Duration           `yaml:"poll_interval" json:"poll_interval"`
	RequestTimeout time.Duration           `yaml:"request_timeout" json:"request_timeout"`
	LogCapacity    int                     `yaml:"log_capacity" json:"log_capacity"`
	HMI            HMIConfig               `yaml:"hmi" json:"hmi"`
	Web            WebConfig               `yaml:"web" json:"web"`
	Targets        Targets                 `yaml:"targets" json:"targets"`
	OffsetsMM      []float64               `yaml:"offsets_mm" json:"offsets_mm"`
	Channels       []convert.ChannelConfig `yaml:"channels" json:"channels"`
}

// Default returns a configuration with sensible values for a freshly
// installed station.
func Default() *Config {
	cfg := &Config{
		HubAddress:     "192.168.100.1",
		PollInterval:   500 * time.Millisecond, // 2 Hz sampling
		RequestTimeout: time.Second,
		LogCapacity:    200,
		HMI: HMIConfig{
			SerialPort: "/dev/serial0",
			Baud:       115200,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
		Targets: Targets{
			D1Tol:     0.050,
			D2Tol:     0.050,
			LenTarget: 1165.0,
			LenTol:    0.200,
			DDeltaMax: 0.050,
			End1Max:   0.050,
			End2Max:   0.050,
		},
		OffsetsMM: make([]float64, NumChannels),
		Channels:  make([]convert.ChannelConfig, NumChannels),
	}
	for i := range cfg.Channels {
		cfg.Channels[i] = convert.ChannelConfig{RawFormat: convert.FormatUintBE, Scale: 0.001}
	}
	return cfg
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; missing fields are filled in from the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file. The write is atomic: the
// data goes to a temp file in the same directory which is then renamed
// over the target, so a concurrent Load never sees a partial file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.OffsetsMM = make([]float64, len(c.OffsetsMM))
	copy(out.OffsetsMM, c.OffsetsMM)
	out.Channels = make([]convert.ChannelConfig, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.StartBit != nil {
			v := *ch.StartBit
			ch.StartBit = &v
		}
		if ch.BitLength != nil {
			v := *ch.BitLength
			ch.BitLength = &v
		}
		out.Channels[i] = ch
	}
	return &out
}

// ensureDefaults ensures that all required fields have usable values.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.HubAddress == "" {
		c.HubAddress = def.HubAddress
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.LogCapacity <= 0 {
		c.LogCapacity = def.LogCapacity
	}
	if c.HMI.SerialPort == "" {
		c.HMI.SerialPort = def.HMI.SerialPort
	}
	if c.HMI.Baud <= 0 {
		c.HMI.Baud = def.HMI.Baud
	}
	if c.Web.Listen == "" {
		c.Web.Listen = def.Web.Listen
	}

	for len(c.OffsetsMM) < NumChannels {
		c.OffsetsMM = append(c.OffsetsMM, 0)
	}
	c.OffsetsMM = c.OffsetsMM[:NumChannels]

	for len(c.Channels) < NumChannels {
		c.Channels = append(c.Channels, convert.ChannelConfig{RawFormat: convert.FormatUintBE, Scale: 0.001})
	}
	c.Channels = c.Channels[:NumChannels]
	for i := range c.Channels {
		if c.Channels[i].RawFormat == "" {
			c.Channels[i].RawFormat = convert.FormatUintBE
		}
		if c.Channels[i].Scale == 0 {
			c.Channels[i].Scale = 0.001
		}
	}
}

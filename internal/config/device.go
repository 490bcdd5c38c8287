package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/convlink/internal/serialmux"
	"github.com/banshee-data/convlink/internal/units"
)

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// DeviceConfig is the configuration of one converter link. Every field is
// optional; the Get* methods supply defaults for anything left unset, so
// partial files are safe.
type DeviceConfig struct {
	// Serial port
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// Exchange timing, as duration strings like "150ms"
	AckDelay        *string `json:"ack_delay,omitempty" yaml:"ack_delay,omitempty"`
	TelemetryDelay  *string `json:"telemetry_delay,omitempty" yaml:"telemetry_delay,omitempty"`
	ResponseTimeout *string `json:"response_timeout,omitempty" yaml:"response_timeout,omitempty"`
	PollInterval    *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	BareOpcodes     *bool   `json:"bare_opcodes,omitempty" yaml:"bare_opcodes,omitempty"`

	// Server
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	// ReferenceOffset is added to the computed current reference, in ADC counts.
	ReferenceOffset *int `json:"reference_offset,omitempty" yaml:"reference_offset,omitempty"`

	Calibration *CalibrationConfig `json:"calibration,omitempty" yaml:"calibration,omitempty"`
}

// CalibrationConfig overrides individual units.Calibration constants.
type CalibrationConfig struct {
	ADCScale          *float64 `json:"adc_scale,omitempty" yaml:"adc_scale,omitempty"`
	VoltageGain       *float64 `json:"voltage_gain,omitempty" yaml:"voltage_gain,omitempty"`
	CurrentSenseGain  *float64 `json:"current_sense_gain,omitempty" yaml:"current_sense_gain,omitempty"`
	Current1Zero      *int     `json:"current1_zero,omitempty" yaml:"current1_zero,omitempty"`
	Current2Zero      *int     `json:"current2_zero,omitempty" yaml:"current2_zero,omitempty"`
	TemperatureSlope  *float64 `json:"temperature_slope,omitempty" yaml:"temperature_slope,omitempty"`
	TemperatureOffset *float64 `json:"temperature_offset,omitempty" yaml:"temperature_offset,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyDeviceConfig returns a DeviceConfig with all fields set to nil.
func EmptyDeviceConfig() *DeviceConfig {
	return &DeviceConfig{}
}

// LoadDeviceConfig loads a DeviceConfig from a .json, .yaml or .yml file
// under 1MB and validates it.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDeviceConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DeviceConfig) Validate() error {
	if _, err := c.GetPortOptions().Normalise(); err != nil {
		return err
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"ack_delay", c.AckDelay},
		{"telemetry_delay", c.TelemetryDelay},
		{"response_timeout", c.ResponseTimeout},
		{"poll_interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}

	if c.ResponseTimeout != nil && *c.ResponseTimeout != "" && c.GetResponseTimeout() == 0 {
		return fmt.Errorf("response_timeout must be positive")
	}

	cal := c.GetCalibration()
	if cal.ADCScale <= 0 {
		return fmt.Errorf("calibration adc_scale must be positive, got %g", cal.ADCScale)
	}
	if cal.CurrentSenseGain <= 0 {
		return fmt.Errorf("calibration current_sense_gain must be positive, got %g", cal.CurrentSenseGain)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the serial device path, or the empty string if unset.
func (c *DeviceConfig) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetPortOptions returns the serial framing. Unset values are filled in by
// PortOptions.Normalise (9600 8N1).
func (c *DeviceConfig) GetPortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetAckDelay returns the delay before reading an acknowledgment.
func (c *DeviceConfig) GetAckDelay() time.Duration {
	return durationOr(c.AckDelay, 150*time.Millisecond)
}

// GetTelemetryDelay returns the delay before reading a telemetry frame.
func (c *DeviceConfig) GetTelemetryDelay() time.Duration {
	return durationOr(c.TelemetryDelay, 300*time.Millisecond)
}

// GetResponseTimeout returns the bound on reading one reply.
func (c *DeviceConfig) GetResponseTimeout() time.Duration {
	return durationOr(c.ResponseTimeout, time.Second)
}

// GetPollInterval returns the telemetry polling period; zero disables polling.
func (c *DeviceConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 0)
}

// GetBareOpcodes reports whether argument-less commands go out as one byte.
func (c *DeviceConfig) GetBareOpcodes() bool {
	if c.BareOpcodes == nil {
		return false
	}
	return *c.BareOpcodes
}

// GetListen returns the HTTP listen address.
func (c *DeviceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the sqlite database path.
func (c *DeviceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "converter.db"
	}
	return *c.DBPath
}

// GetReferenceOffset returns the reference offset in ADC counts.
func (c *DeviceConfig) GetReferenceOffset() int {
	if c.ReferenceOffset == nil {
		return 0
	}
	return *c.ReferenceOffset
}

// GetCalibration returns units.DefaultCalibration with any configured
// overrides applied.
func (c *DeviceConfig) GetCalibration() units.Calibration {
	cal := units.DefaultCalibration()
	o := c.Calibration
	if o == nil {
		return cal
	}
	if o.ADCScale != nil {
		cal.ADCScale = *o.ADCScale
	}
	if o.VoltageGain != nil {
		cal.VoltageGain = *o.VoltageGain
	}
	if o.CurrentSenseGain != nil {
		cal.CurrentSenseGain = *o.CurrentSenseGain
	}
	if o.Current1Zero != nil {
		cal.Current1Zero = *o.Current1Zero
	}
	if o.Current2Zero != nil {
		cal.Current2Zero = *o.Current2Zero
	}
	if o.TemperatureSlope != nil {
		cal.TemperatureSlope = *o.TemperatureSlope
	}
	if o.TemperatureOffset != nil {
		cal.TemperatureOffset = *o.TemperatureOffset
	}
	return cal
}

// MuxOptions returns the serialmux options for the configured timing.
func (c *DeviceConfig) MuxOptions() []serialmux.Option {
	return []serialmux.Option{
		serialmux.WithAckDelay(c.GetAckDelay()),
		serialmux.WithTelemetryDelay(c.GetTelemetryDelay()),
		serialmux.WithResponseTimeout(c.GetResponseTimeout()),
		serialmux.WithPollInterval(c.GetPollInterval()),
		serialmux.WithBareOpcodes(c.GetBareOpcodes()),
	}
}

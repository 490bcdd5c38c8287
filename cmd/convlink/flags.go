package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/banshee-data/convlink/internal/config"
)

type cliFlags struct {
	configPath    string
	simulate      bool
	disableDevice bool
	verbose       bool
	showVersion   bool

	// Overrides; the zero value leaves the config file's setting in place.
	port         string
	listen       string
	dbPath       string
	pollInterval time.Duration
	offset       int
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to a JSON or YAML device config")
	fs.BoolVar(&f.simulate, "simulate", false, "Talk to an in-memory simulated converter instead of a serial port")
	fs.BoolVar(&f.disableDevice, "disable-device", false, "Run without a converter; device operations fail")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every frame written and read")
	fs.BoolVar(&f.showVersion, "version", false, "Print the version and exit")
	fs.StringVar(&f.port, "port", "", "Serial port, e.g. /dev/ttyUSB0 (overrides config)")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address (overrides config, default :8080)")
	fs.StringVar(&f.dbPath, "db", "", "SQLite database path (overrides config, default converter.db)")
	fs.DurationVar(&f.pollInterval, "poll-interval", -1, "Telemetry poll interval; 0 disables (overrides config)")
	fs.IntVar(&f.offset, "offset", -1, "Reference offset in ADC counts (overrides config)")
	return f
}

// deviceConfig loads the config file, if any, and applies flag overrides.
func (f *cliFlags) deviceConfig() (*config.DeviceConfig, error) {
	if f.simulate && f.disableDevice {
		return nil, fmt.Errorf("--simulate and --disable-device are mutually exclusive")
	}

	cfg := config.EmptyDeviceConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadDeviceConfig(f.configPath); err != nil {
			return nil, err
		}
	}

	if f.port != "" {
		cfg.Port = &f.port
	}
	if f.listen != "" {
		cfg.Listen = &f.listen
	}
	if f.dbPath != "" {
		cfg.DBPath = &f.dbPath
	}
	if f.pollInterval >= 0 {
		s := f.pollInterval.String()
		cfg.PollInterval = &s
	}
	if f.offset >= 0 {
		cfg.ReferenceOffset = &f.offset
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !f.simulate && !f.disableDevice && cfg.GetPort() == "" {
		return nil, fmt.Errorf("a serial port is required (set --port or port in the config)")
	}
	return cfg, nil
}

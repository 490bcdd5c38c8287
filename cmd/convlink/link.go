package main

import (
	"github.com/banshee-data/convlink/internal/config"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
)

// simulatedFrame is what the simulated converter reports while idle: about
// 24 V in, 40 V out, no current and 25 °C.
var simulatedFrame = protocol.TelemetryFrame{
	LowVoltage:  1510,
	HighVoltage: 2530,
	Current1:    1938,
	Current2:    1942,
	Temperature: 1288,
}

// openLink returns the link selected by the flags.
func openLink(f *cliFlags, cfg *config.DeviceConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case f.disableDevice:
		return serialmux.NewDisabledSerialMux(), nil
	case f.simulate:
		sim := serialmux.NewSimulatedConverter(simulatedFrame)
		return serialmux.NewSimulatedSerialMux(sim, cfg.MuxOptions()...), nil
	default:
		m, err := serialmux.NewRealSerialMux(cfg.GetPort(), cfg.GetPortOptions(), cfg.MuxOptions()...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

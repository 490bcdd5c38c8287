package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware serial ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the serial port at path.
func (f *RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions, options ...Option) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](port, options...), nil
}

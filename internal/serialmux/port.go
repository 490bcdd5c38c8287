package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement. Ports that
// implement it get a short read timeout so a pending exchange can notice
// cancellation between reads.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// InputResetter is implemented by ports that can discard unread input. The
// mux drops stale bytes before every exchange so a late reply to an earlier
// command is never paired with the next one.
type InputResetter interface {
	ResetInputBuffer() error
}

// SerialPortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// SerialPortOpener is a function type for opening serial ports.
// This allows for easier testing by replacing the opener function.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

// Open calls f.
func (f SerialPortOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}

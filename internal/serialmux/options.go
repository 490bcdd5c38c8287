package serialmux

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/convlink/internal/timeutil"
)

// DefaultBaudRate is the rate the converter firmware's UART runs at.
const DefaultBaudRate = 9600

// PortOptions describes the serial connection parameters used when opening a real
// serial port. The fields mirror the device configuration file so that the
// options can be passed through without additional translation.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalise validates the options and applies defaults for any unset values.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// Equal reports whether two PortOptions describe the same serial configuration.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalise()
	b, errB := other.Normalise()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// String renders the options in the usual 9600 8N1 form.
func (o PortOptions) String() string {
	n, err := o.Normalise()
	if err != nil {
		return fmt.Sprintf("invalid(%d %d%s%d)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// Config holds the timing of exchanges with the device.
type Config struct {
	// AckDelay is how long to wait after a command before reading its
	// acknowledgment.
	AckDelay time.Duration

	// TelemetryDelay is how long to wait after a poll before reading the
	// telemetry frame.
	TelemetryDelay time.Duration

	// ResponseTimeout bounds the read that follows the delay.
	ResponseTimeout time.Duration

	// ReadTimeout is applied to ports implementing TimeoutSerialPorter.
	ReadTimeout time.Duration

	// PollInterval is the period of Monitor's telemetry polls. Zero disables
	// polling.
	PollInterval time.Duration

	// BareOpcodes sends commands without an argument as the single opcode
	// byte instead of a full four-byte frame, as older firmware expects.
	BareOpcodes bool

	// Clock provides the delays. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

func defaultConfig() Config {
	return Config{
		AckDelay:        150 * time.Millisecond,
		TelemetryDelay:  300 * time.Millisecond,
		ResponseTimeout: time.Second,
		ReadTimeout:     50 * time.Millisecond,
		Clock:           timeutil.RealClock{},
	}
}

// Option is a functional option for configuring a SerialMux.
type Option func(*Config)

// WithAckDelay sets the delay between a command and reading its acknowledgment.
func WithAckDelay(d time.Duration) Option {
	return func(c *Config) { c.AckDelay = d }
}

// WithTelemetryDelay sets the delay between a poll and reading the frame.
func WithTelemetryDelay(d time.Duration) Option {
	return func(c *Config) { c.TelemetryDelay = d }
}

// WithResponseTimeout bounds how long a reply may take to arrive in full.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResponseTimeout = d }
}

// WithPollInterval enables periodic telemetry polling in Monitor.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithBareOpcodes selects single-byte encoding for commands without an
// argument.
func WithBareOpcodes(bare bool) Option {
	return func(c *Config) { c.BareOpcodes = bare }
}

// WithClock replaces the clock used for delays and timeouts.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

package protocol

import "fmt"

// Opcodes understood by the converter firmware.
const (
	// OpPoll requests a telemetry frame. It is not acknowledged; the device
	// replies with TelemetrySize bytes.
	OpPoll byte = 'A'
	// OpStart starts the converter. The acknowledgment echoes the reference
	// the firmware is regulating to (Iset_adc).
	OpStart byte = 'G'
	// OpStop shuts the converter down.
	OpStop byte = 'x'
	// OpSetReference sets the 16-bit current reference. The device echoes the
	// value it stored.
	OpSetReference byte = 'e'
)

// CommandSize is the length of an encoded command frame.
const CommandSize = 4

// Command is an opcode with an optional 16-bit argument.
type Command struct {
	Opcode   byte   `json:"opcode"`
	Value    uint16 `json:"value"`
	HasValue bool   `json:"has_value"`
}

// NewCommand returns a command that carries no argument.
func NewCommand(op byte) Command {
	return Command{Opcode: op}
}

// NewValueCommand returns a command whose argument is checked against the
// device's echo.
func NewValueCommand(op byte, value uint16) Command {
	return Command{Opcode: op, Value: value, HasValue: true}
}

// Encode returns the command's four-byte frame. Commands without an argument
// are sent with a zero value.
func (c Command) Encode() CommandFrame {
	return EncodeFrame(c.Opcode, int(c.Value))
}

func (c Command) String() string {
	if c.HasValue {
		return fmt.Sprintf("%c(%d)", c.Opcode, c.Value)
	}
	return fmt.Sprintf("%c", c.Opcode)
}

// CommandFrame is the wire form of a command.
type CommandFrame [CommandSize]byte

// EncodeFrame builds a command frame. value is masked to 16 bits.
func EncodeFrame(opcode byte, value int) CommandFrame {
	var f CommandFrame
	f[0] = opcode
	f[1] = byte(value & 0xFF)
	f[2] = byte((value >> 8) & 0xFF)
	f[3] = checksum(f[:3])
	return f
}

// EncodeCommand encodes opcode with an optional value and returns the frame
// bytes. Only the first value is used.
func EncodeCommand(opcode byte, value ...int) []byte {
	v := 0
	if len(value) > 0 {
		v = value[0]
	}
	f := EncodeFrame(opcode, v)
	return f[:]
}

// checksum is the low byte of the sum of b.
func checksum(b []byte) byte {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return byte(sum % 256)
}

func (f CommandFrame) Opcode() byte   { return f[0] }
func (f CommandFrame) Value() uint16  { return uint16(DecodeUnsigned(f[1:3])) }
func (f CommandFrame) Checksum() byte { return f[3] }

// Valid reports whether the checksum byte matches the frame contents.
func (f CommandFrame) Valid() bool {
	return checksum(f[:3]) == f[3]
}

// Bytes returns the frame as a slice.
func (f CommandFrame) Bytes() []byte {
	b := make([]byte, CommandSize)
	copy(b, f[:])
	return b
}

// DecodeCommandFrame parses a frame produced by EncodeFrame, recomputing the
// checksum the same way. The returned command always has HasValue set since
// the wire form cannot tell a zero argument from a missing one.
func DecodeCommandFrame(b []byte) (Command, error) {
	if len(b) != CommandSize {
		return Command{}, &FrameError{Kind: ErrFrameLength, Got: len(b), Want: CommandSize}
	}
	var f CommandFrame
	copy(f[:], b)
	if !f.Valid() {
		return Command{}, fmt.Errorf("%w: frame % X carries 0x%02X, want 0x%02X", ErrChecksum, b, f[3], checksum(f[:3]))
	}
	return NewValueCommand(f.Opcode(), f.Value()), nil
}

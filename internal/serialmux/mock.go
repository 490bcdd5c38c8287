package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/convlink/internal/protocol"
)

// ErrPortClosed is returned by the test ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
// An empty read buffer reads as io.EOF, which the mux treats as the end of
// the reply.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally blocking or failing.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	// If blocking reads are enabled and buffer is empty, wait for data
	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally failing.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// Reset clears all buffers and resets state.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ShortWrite = false
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path:    path,
		Options: opts,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// SimulatedConverter is an in-memory converter. It accepts both four-byte
// command frames and bare opcodes, acknowledges them the way the firmware
// does, and answers polls with Telemetry. It is used by --simulate and tests.
type SimulatedConverter struct {
	mu  sync.Mutex
	out bytes.Buffer

	// Telemetry is returned for each poll. State is overwritten with 1 while
	// running and 0 otherwise.
	Telemetry protocol.TelemetryFrame

	// Reference is the last value stored by OpSetReference.
	Reference uint16
	// Running is set by OpStart and cleared by OpStop.
	Running bool

	// Silent drops every reply.
	Silent bool
	// EchoSkew is added to echoed values, to simulate a corrupted link.
	EchoSkew uint16
	// TruncateTelemetry, when positive, cuts telemetry replies to that many
	// bytes.
	TruncateTelemetry int

	// Received records every decoded command.
	Received []protocol.Command

	readTimeout time.Duration
	closed      bool
}

// NewSimulatedConverter returns a stopped converter reporting frame.
func NewSimulatedConverter(frame protocol.TelemetryFrame) *SimulatedConverter {
	return &SimulatedConverter{Telemetry: frame}
}

// Write decodes p as one command and queues the reply.
func (c *SimulatedConverter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrPortClosed
	}

	var cmd protocol.Command
	switch len(p) {
	case 1:
		cmd = protocol.NewCommand(p[0])
	case protocol.CommandSize:
		decoded, err := protocol.DecodeCommandFrame(p)
		if err != nil {
			// firmware ignores frames with a bad checksum
			return len(p), nil
		}
		cmd = decoded
	default:
		return len(p), nil
	}
	c.Received = append(c.Received, cmd)

	reply := c.reply(cmd)
	if !c.Silent {
		c.out.Write(reply)
	}
	return len(p), nil
}

func (c *SimulatedConverter) reply(cmd protocol.Command) []byte {
	echo := func(v uint16) []byte {
		v += c.EchoSkew
		return []byte{cmd.Opcode, byte(v), byte(v >> 8)}
	}

	switch cmd.Opcode {
	case protocol.OpPoll:
		frame := c.Telemetry
		frame.State = 0
		if c.Running {
			frame.State = 1
		}
		raw := frame.Encode()
		if c.TruncateTelemetry > 0 && c.TruncateTelemetry < len(raw) {
			raw = raw[:c.TruncateTelemetry]
		}
		return raw
	case protocol.OpStart:
		c.Running = true
		return echo(c.Reference)
	case protocol.OpStop:
		c.Running = false
		return []byte{cmd.Opcode}
	case protocol.OpSetReference:
		c.Reference = cmd.Value
		return echo(cmd.Value)
	default:
		return []byte{cmd.Opcode}
	}
}

// Read returns queued reply bytes. With nothing queued it waits for the read
// timeout and returns no data, like a real port.
func (c *SimulatedConverter) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrPortClosed
	}
	if c.out.Len() > 0 {
		defer c.mu.Unlock()
		return c.out.Read(p)
	}
	timeout := c.readTimeout
	c.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

// ResetInputBuffer drops unread reply bytes.
func (c *SimulatedConverter) ResetInputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Reset()
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (c *SimulatedConverter) SetReadTimeout(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimeout = timeout
	return nil
}

// Close stops the simulator.
func (c *SimulatedConverter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// State returns the simulator's reference and run state.
func (c *SimulatedConverter) State() (reference uint16, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Reference, c.Running
}

// NewSimulatedSerialMux creates a SerialMux backed by a SimulatedConverter.
func NewSimulatedSerialMux(sim *SimulatedConverter, opts ...Option) *SerialMux[*SimulatedConverter] {
	return NewSerialMux(sim, opts...)
}

package serialmux

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var testFrame = protocol.TelemetryFrame{
	LowVoltage:  1200,
	HighVoltage: 3100,
	Current1:    1800,
	Current2:    1810,
	Aux:         -300,
	Aux2:        4,
	Temperature: 1300,
}

func newTestClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

func newTestMux(opts ...Option) (*TestableSerialPort, *SerialMux[*TestableSerialPort], *timeutil.MockClock) {
	clock := newTestClock()
	port := NewTestableSerialPort()
	return port, NewSerialMux(port, append([]Option{WithClock(clock)}, opts...)...), clock
}

func TestNewSerialMux_SetsReadTimeout(t *testing.T) {
	port, _, _ := newTestMux()
	if port.ReadTimeout != 50*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 50ms", port.ReadTimeout)
	}
}

func TestExchange_WritesWaitsAndReads(t *testing.T) {
	port, mux, clock := newTestMux()
	port.AddReadData([]byte{'e', 0x2C, 0x01})

	rx, err := mux.Exchange(context.Background(), []byte{0x65, 0x2C, 0x01, 0x92}, 150*time.Millisecond, 3)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if !bytes.Equal(rx, []byte{'e', 0x2C, 0x01}) {
		t.Errorf("rx = % X", rx)
	}
	if got := port.GetWrittenData(); !bytes.Equal(got, []byte{0x65, 0x2C, 0x01, 0x92}) {
		t.Errorf("written = % X", got)
	}

	waits := clock.Waits()
	if len(waits) < 1 || waits[0] != 150*time.Millisecond {
		t.Errorf("first wait = %v, want 150ms", waits)
	}
}

func TestExchange_WriteError(t *testing.T) {
	port, mux, _ := newTestMux()
	wantErr := errors.New("cable pulled")
	port.WriteError = wantErr

	if _, err := mux.Exchange(context.Background(), []byte{'A'}, 0, 1); !errors.Is(err, wantErr) {
		t.Errorf("Exchange() error = %v, want %v", err, wantErr)
	}
}

func TestExchange_ShortWrite(t *testing.T) {
	port, mux, _ := newTestMux()
	port.ShortWrite = true

	if _, err := mux.Exchange(context.Background(), []byte{'A', 0, 0, 'A'}, 0, 1); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Exchange() error = %v, want ErrWriteFailed", err)
	}
}

func TestExchange_ReadError(t *testing.T) {
	port, mux, _ := newTestMux()
	wantErr := errors.New("framing error")
	port.ReadError = wantErr

	if _, err := mux.Exchange(context.Background(), []byte{'A'}, 0, 1); !errors.Is(err, wantErr) {
		t.Errorf("Exchange() error = %v, want %v", err, wantErr)
	}
}

func TestExchange_CancelledDuringDelay(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port) // real clock
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := mux.Exchange(ctx, []byte{'A'}, time.Hour, 15)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exchange() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled exchange did not return promptly")
	}
}

func TestExchange_CancelledWhileReading(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	sim.Silent = true
	mux := NewSerialMux(sim, WithResponseTimeout(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := mux.Exchange(ctx, []byte{'A'}, 0, 15)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exchange() error = %v, want DeadlineExceeded", err)
	}
}

func TestExchange_AfterClose(t *testing.T) {
	_, mux, _ := newTestMux()
	mux.Close()

	if _, err := mux.Exchange(context.Background(), []byte{'A'}, 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Exchange() error = %v, want ErrClosed", err)
	}
}

func TestExchange_DiscardsStaleInput(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()))

	// a late acknowledgment left over from an earlier command
	sim.out.Write([]byte{'x'})

	frame, err := mux.PollTelemetry(context.Background())
	if err != nil {
		t.Fatalf("PollTelemetry() error = %v", err)
	}
	if frame != testFrame {
		t.Errorf("frame = %+v, want %+v", frame, testFrame)
	}
}

func TestSendCommand_Matched(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData([]byte{0x65, 0x2C, 0x01})

	v, err := mux.SendCommand(context.Background(), protocol.NewValueCommand(protocol.OpSetReference, 300))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if v.Outcome != protocol.Matched {
		t.Errorf("Outcome = %v, want matched", v.Outcome)
	}
	if got := port.GetWrittenData(); !bytes.Equal(got, []byte{0x65, 0x2C, 0x01, 0x92}) {
		t.Errorf("written = % X, want 65 2C 01 92", got)
	}
}

func TestSendCommand_ValueMismatch(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData([]byte{0x65, 0x2D, 0x01})

	v, err := mux.SendCommand(context.Background(), protocol.NewValueCommand(protocol.OpSetReference, 300))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if v.Outcome != protocol.ValueMismatch || v.Expected != 300 || v.Actual != 301 {
		t.Errorf("verification = %+v", v)
	}
}

func TestSendCommand_OpcodeMismatch(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData([]byte{'G'})

	v, err := mux.SendCommand(context.Background(), protocol.NewCommand(protocol.OpStop))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if v.Outcome != protocol.OpcodeMismatch {
		t.Errorf("Outcome = %v, want opcode_mismatch", v.Outcome)
	}
}

func TestSendCommand_NoResponse(t *testing.T) {
	_, mux, _ := newTestMux()

	v, err := mux.SendCommand(context.Background(), protocol.NewCommand(protocol.OpStop))
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("SendCommand() error = %v, want ErrNoResponse", err)
	}
	if v.Outcome != protocol.AwaitingResponse {
		t.Errorf("Outcome = %v, want awaiting_response", v.Outcome)
	}
}

func TestSendCommand_ShortValueEcho(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData([]byte{'e', 0x2C})

	_, err := mux.SendCommand(context.Background(), protocol.NewValueCommand(protocol.OpSetReference, 300))
	if !errors.Is(err, protocol.ErrResponseTooShort) {
		t.Errorf("SendCommand() error = %v, want ErrResponseTooShort", err)
	}
}

func TestSendCommand_StartEchoesReference(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData([]byte{'G', 0x2A, 0x00})

	v, err := mux.SendCommand(context.Background(), protocol.NewCommand(protocol.OpStart))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !v.Ok() || !v.HasEcho || v.Echo != 42 {
		t.Errorf("verification = %+v, want matched with echo 42", v)
	}
}

func TestSendCommand_Encoding(t *testing.T) {
	cases := []struct {
		name string
		bare bool
		cmd  protocol.Command
		want []byte
	}{
		{"framed stop", false, protocol.NewCommand(protocol.OpStop), []byte{'x', 0, 0, 'x'}},
		{"bare stop", true, protocol.NewCommand(protocol.OpStop), []byte{'x'}},
		{"bare value command stays framed", true, protocol.NewValueCommand(protocol.OpSetReference, 300), []byte{0x65, 0x2C, 0x01, 0x92}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			port, mux, _ := newTestMux(WithBareOpcodes(tc.bare))
			port.AddReadData([]byte{tc.cmd.Opcode, 0x2C, 0x01})
			if _, err := mux.SendCommand(context.Background(), tc.cmd); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			if got := port.GetWrittenData(); !bytes.Equal(got, tc.want) {
				t.Errorf("written = % X, want % X", got, tc.want)
			}
		})
	}
}

func TestPollTelemetry(t *testing.T) {
	port, mux, clock := newTestMux()
	port.AddReadData(testFrame.Encode())

	frame, err := mux.PollTelemetry(context.Background())
	if err != nil {
		t.Fatalf("PollTelemetry() error = %v", err)
	}
	if frame != testFrame {
		t.Errorf("frame = %+v, want %+v", frame, testFrame)
	}
	if got := port.GetWrittenData(); !bytes.Equal(got, []byte{'A', 0, 0, 'A'}) {
		t.Errorf("written = % X", got)
	}
	if waits := clock.Waits(); len(waits) == 0 || waits[0] != 300*time.Millisecond {
		t.Errorf("waits = %v, want 300ms first", waits)
	}
}

func TestPollTelemetry_ShortFrame(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData(testFrame.Encode()[:14])

	_, err := mux.PollTelemetry(context.Background())
	var fe *protocol.FrameError
	if !errors.As(err, &fe) || !errors.Is(err, protocol.ErrFrameTooShort) {
		t.Fatalf("PollTelemetry() error = %v, want FrameTooShort", err)
	}
	if fe.Got != 14 || fe.Want != 15 {
		t.Errorf("FrameError = %+v", fe)
	}
}

func TestPollTelemetry_ExtraBytesIgnored(t *testing.T) {
	port, mux, _ := newTestMux()
	port.AddReadData(append(testFrame.Encode(), 0xFF, 0xFF))

	frame, err := mux.PollTelemetry(context.Background())
	if err != nil {
		t.Fatalf("PollTelemetry() error = %v", err)
	}
	if frame != testFrame {
		t.Errorf("frame = %+v", frame)
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	port, mux, _ := newTestMux()
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	port.AddReadData(testFrame.Encode())
	if _, err := mux.PollTelemetry(context.Background()); err != nil {
		t.Fatalf("PollTelemetry() error = %v", err)
	}
	port.AddReadData([]byte{'x'})
	if _, err := mux.SendCommand(context.Background(), protocol.NewCommand(protocol.OpStop)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if _, err := mux.SendCommand(context.Background(), protocol.NewCommand(protocol.OpStop)); err == nil {
		t.Fatal("expected ErrNoResponse")
	}

	ev := <-ch
	if ev.Type != EventTypeTelemetry || ev.Telemetry == nil || *ev.Telemetry != testFrame {
		t.Errorf("first event = %+v", ev)
	}
	if !bytes.Equal(ev.RxBytes(), testFrame.Encode()) {
		t.Errorf("rx = % X", ev.RxBytes())
	}
	if ev.Time.IsZero() {
		t.Error("event time not set")
	}

	ev = <-ch
	if ev.Type != EventTypeCommand || ev.Verification == nil || !ev.Verification.Ok() {
		t.Errorf("second event = %+v", ev)
	}
	if !bytes.Equal(ev.TxBytes(), []byte{'x', 0, 0, 'x'}) {
		t.Errorf("tx = % X", ev.TxBytes())
	}

	ev = <-ch
	if ev.Type != EventTypeError || ev.Error == "" {
		t.Errorf("third event = %+v", ev)
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()))
	_, ch := mux.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		if _, err := mux.PollTelemetry(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	_, mux, _ := newTestMux()
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	// unknown IDs are ignored
	mux.Unsubscribe("missing")
}

func TestClose_ClosesSubscribersAndPort(t *testing.T) {
	port, mux, _ := newTestMux()
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, ch := range []chan Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("subscriber channel should be closed")
		}
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestMonitor_PollsAndPublishes(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()), WithPollInterval(time.Second))
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			if ev.Type != EventTypeTelemetry {
				t.Errorf("event %d type = %s", i, ev.Type)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no telemetry event %d", i)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor() = %v, want context.Canceled", err)
	}
}

func TestMonitor_ContinuesAfterShortFrame(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	sim.TruncateTelemetry = 5
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()), WithPollInterval(time.Second))
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			if ev.Type != EventTypeError {
				t.Errorf("event %d type = %s, want error", i, ev.Type)
			}
		case err := <-done:
			t.Fatalf("Monitor returned early: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatalf("no error event %d", i)
		}
	}
}

func TestMonitor_StopsOnTransportError(t *testing.T) {
	port, mux, _ := newTestMux(WithPollInterval(time.Second))
	wantErr := errors.New("device gone")
	port.WriteError = wantErr

	if err := mux.Monitor(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Monitor() = %v, want %v", err, wantErr)
	}
}

func TestMonitor_DisabledWaitsForContext(t *testing.T) {
	_, mux, _ := newTestMux()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := mux.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor() = %v", err)
	}
}

func TestMonitor_ReturnsAfterClose(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()), WithPollInterval(time.Second))
	mux.Close()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Errorf("Monitor() after Close = %v, want nil", err)
	}
}

func TestExchange_Serialised(t *testing.T) {
	sim := NewSimulatedConverter(testFrame)
	mux := NewSimulatedSerialMux(sim, WithClock(newTestClock()))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := mux.PollTelemetry(context.Background()); err != nil {
				errs <- err
			}
		}()
		go func(v uint16) {
			defer wg.Done()
			res, err := mux.SendCommand(context.Background(), protocol.NewValueCommand(protocol.OpSetReference, v))
			if err != nil {
				errs <- err
				return
			}
			if !res.Ok() {
				errs <- errors.New(res.String())
			}
		}(uint16(1000 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent exchange failed: %v", err)
	}
}

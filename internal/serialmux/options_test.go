package serialmux

import (
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/convlink/internal/timeutil"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	// Zero-value options should get defaults applied
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", got.BaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestPortOptions_Normalise_ExplicitValues(t *testing.T) {
	opts := PortOptions{BaudRate: 19200, DataBits: 7, StopBits: 2, Parity: "even"}
	got, err := opts.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 19200, DataBits: 7, StopBits: 2, Parity: "E"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_NegativeBaudRate(t *testing.T) {
	got, err := PortOptions{BaudRate: -5}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("negative baud rate should default to %d, got %d", DefaultBaudRate, got.BaudRate)
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	cases := []PortOptions{
		{DataBits: 4},
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "M"},
	}
	for _, opts := range cases {
		if _, err := opts.Normalise(); err == nil {
			t.Errorf("Normalise(%+v): expected error", opts)
		}
	}
}

func TestPortOptions_EqualAndString(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: 9600, Parity: "none"}) {
		t.Error("defaults should equal explicit 9600 8N1")
	}
	if (PortOptions{}).Equal(PortOptions{BaudRate: 19200}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "X"}).Equal(PortOptions{Parity: "X"}) {
		t.Error("invalid options should never be equal")
	}
	if got := (PortOptions{StopBits: 2, Parity: "O"}).String(); got != "9600 8O2" {
		t.Errorf("String() = %q, want 9600 8O2", got)
	}
	if got := (PortOptions{DataBits: 12}).String(); !strings.HasPrefix(got, "invalid") {
		t.Errorf("String() of invalid options = %q", got)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 115200, StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 {
		t.Errorf("mode = %+v", mode)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}

	if _, err := (PortOptions{Parity: "?"}).SerialMode(); err == nil {
		t.Error("expected error for invalid parity")
	}
}

func TestOptions(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cfg := defaultConfig()
	for _, opt := range []Option{
		WithAckDelay(10 * time.Millisecond),
		WithTelemetryDelay(20 * time.Millisecond),
		WithResponseTimeout(30 * time.Millisecond),
		WithPollInterval(time.Second),
		WithBareOpcodes(true),
		WithClock(clock),
		WithClock(nil),
	} {
		opt(&cfg)
	}

	if cfg.AckDelay != 10*time.Millisecond || cfg.TelemetryDelay != 20*time.Millisecond ||
		cfg.ResponseTimeout != 30*time.Millisecond || cfg.PollInterval != time.Second {
		t.Errorf("durations not applied: %+v", cfg)
	}
	if !cfg.BareOpcodes {
		t.Error("BareOpcodes not applied")
	}
	if cfg.Clock != clock {
		t.Error("WithClock(nil) should keep the previous clock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.AckDelay != 150*time.Millisecond {
		t.Errorf("AckDelay = %v, want 150ms", cfg.AckDelay)
	}
	if cfg.TelemetryDelay != 300*time.Millisecond {
		t.Errorf("TelemetryDelay = %v, want 300ms", cfg.TelemetryDelay)
	}
	if cfg.PollInterval != 0 {
		t.Errorf("PollInterval = %v, want 0", cfg.PollInterval)
	}
	if _, ok := cfg.Clock.(timeutil.RealClock); !ok {
		t.Errorf("Clock = %T, want RealClock", cfg.Clock)
	}
}

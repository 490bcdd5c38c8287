package units

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/convlink/internal/protocol"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestCalibration_Volts(t *testing.T) {
	c := DefaultCalibration()
	tests := []struct {
		adc  int
		want float64
	}{
		{0, 0},
		{4096, 3.3 * (100 + 5.362) / 5.36},
		{1000, 1000 * 3.3 / 4096 * (100 + 5.362) / 5.36},
	}
	for _, tt := range tests {
		if got := c.Volts(tt.adc); !approx(got, tt.want, 1e-9) {
			t.Errorf("Volts(%d) = %f, want %f", tt.adc, got, tt.want)
		}
	}
}

func TestCalibration_Amps(t *testing.T) {
	c := DefaultCalibration()
	if got := c.Amps(DefaultCurrent1Zero, DefaultCurrent1Zero); got != 0 {
		t.Errorf("Amps at zero = %f, want 0", got)
	}
	// 100 counts below zero is a positive current.
	want := 100 * ADCScale / CurrentSenseGain
	if got := c.Amps(DefaultCurrent1Zero-100, DefaultCurrent1Zero); !approx(got, want, 1e-9) {
		t.Errorf("Amps(zero-100) = %f, want %f", got, want)
	}
	if got := c.Amps(DefaultCurrent1Zero+100, DefaultCurrent1Zero); !approx(got, -want, 1e-9) {
		t.Errorf("Amps(zero+100) = %f, want %f", got, -want)
	}
}

func TestCalibration_Celsius(t *testing.T) {
	c := DefaultCalibration()
	if got := c.Celsius(1300); !approx(got, 1300*0.2315-273, 1e-9) {
		t.Errorf("Celsius(1300) = %f", got)
	}
}

func TestCalibration_ReferenceADC(t *testing.T) {
	c := DefaultCalibration()

	got, err := c.ReferenceADC(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	// 10 A * 0.01 V/A / (3.3/4096) = 124.12 -> 124
	if got != 124 {
		t.Errorf("ReferenceADC(10, 0) = %d, want 124", got)
	}

	got, err = c.ReferenceADC(10, 1938)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2062 {
		t.Errorf("ReferenceADC(10, 1938) = %d, want 2062", got)
	}

	if amps := c.ReferenceAmps(got, 1938); !approx(amps, 10, 0.05) {
		t.Errorf("ReferenceAmps(%d) = %f, want ~10", got, amps)
	}

	if _, err := c.ReferenceADC(-10, 0); !errors.Is(err, ErrReferenceRange) {
		t.Errorf("negative reference error = %v, want ErrReferenceRange", err)
	}
	if _, err := c.ReferenceADC(1e6, 0); !errors.Is(err, ErrReferenceRange) {
		t.Errorf("huge reference error = %v, want ErrReferenceRange", err)
	}
}

func TestCalibration_Apply(t *testing.T) {
	c := DefaultCalibration()
	f := protocol.TelemetryFrame{
		LowVoltage:  500,
		HighVoltage: 2000,
		Current1:    1838,
		Current2:    1842,
		Temperature: 1300,
		State:       2,
	}
	r := c.Apply(f)
	if !approx(r.Current1, r.Current2, 1e-9) {
		t.Errorf("Current1 = %f, Current2 = %f, want equal", r.Current1, r.Current2)
	}
	if !approx(r.TotalCurrent, r.Current1+r.Current2, 1e-9) {
		t.Errorf("TotalCurrent = %f", r.TotalCurrent)
	}
	if r.State != 2 {
		t.Errorf("State = %d, want 2", r.State)
	}
	if r.HighVoltage <= r.LowVoltage {
		t.Errorf("HighVoltage %f should exceed LowVoltage %f", r.HighVoltage, r.LowVoltage)
	}
	if r.String() == "" {
		t.Error("String() returned empty")
	}
}

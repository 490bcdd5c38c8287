// Package units converts the converter's raw ADC counts into physical units.
// Every conversion is a linear transform of a decoded integer; the protocol
// package never applies them.
package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/convlink/internal/protocol"
)

// Default calibration of the converter's sense circuitry.
const (
	ADCReference = 3.3
	ADCFullScale = 4096
	// ADCScale is volts per ADC count.
	ADCScale = ADCReference / ADCFullScale

	// VoltageDividerGain undoes the 100k/5.36k bus voltage divider.
	VoltageDividerGain = (100 + 5.362) / 5.36

	// CurrentSenseGain is the current sense amplifier output in volts per amp.
	CurrentSenseGain = 0.01

	DefaultCurrent1Zero = 1938
	DefaultCurrent2Zero = 1942

	TemperatureSlope  = 0.2315
	TemperatureOffset = -273.0
)

// ErrReferenceRange is returned when a requested current does not fit the
// 16-bit reference register.
var ErrReferenceRange = errors.New("reference out of range")

// Calibration holds the constants used to scale ADC counts.
type Calibration struct {
	ADCScale          float64 `json:"adc_scale" yaml:"adc_scale"`
	VoltageGain       float64 `json:"voltage_gain" yaml:"voltage_gain"`
	CurrentSenseGain  float64 `json:"current_sense_gain" yaml:"current_sense_gain"`
	Current1Zero      int     `json:"current1_zero" yaml:"current1_zero"`
	Current2Zero      int     `json:"current2_zero" yaml:"current2_zero"`
	TemperatureSlope  float64 `json:"temperature_slope" yaml:"temperature_slope"`
	TemperatureOffset float64 `json:"temperature_offset" yaml:"temperature_offset"`
}

// DefaultCalibration returns the calibration of the reference hardware.
func DefaultCalibration() Calibration {
	return Calibration{
		ADCScale:          ADCScale,
		VoltageGain:       VoltageDividerGain,
		CurrentSenseGain:  CurrentSenseGain,
		Current1Zero:      DefaultCurrent1Zero,
		Current2Zero:      DefaultCurrent2Zero,
		TemperatureSlope:  TemperatureSlope,
		TemperatureOffset: TemperatureOffset,
	}
}

// Volts converts a bus voltage sense count to volts.
func (c Calibration) Volts(adc int) float64 {
	return float64(adc) * c.ADCScale * c.VoltageGain
}

// Amps converts a current sense count to amps. zero is the count read at no
// load; the sense amplifier output falls as current rises.
func (c Calibration) Amps(adc, zero int) float64 {
	return -float64(adc-zero) * c.ADCScale / c.CurrentSenseGain
}

// Celsius converts a temperature count to degrees Celsius.
func (c Calibration) Celsius(adc int) float64 {
	return float64(adc)*c.TemperatureSlope + c.TemperatureOffset
}

// ReferenceADC converts a current set-point in amps to the 16-bit reference
// sent with protocol.OpSetReference. offset is added after scaling and the
// result is rounded to the nearest count.
func (c Calibration) ReferenceADC(amps float64, offset int) (uint16, error) {
	raw := math.Round(amps*c.CurrentSenseGain/c.ADCScale + float64(offset))
	if math.IsNaN(raw) || raw < 0 || raw > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %.1f A with offset %d gives %v", ErrReferenceRange, amps, offset, raw)
	}
	return uint16(raw), nil
}

// ReferenceAmps is the inverse of ReferenceADC.
func (c Calibration) ReferenceAmps(raw uint16, offset int) float64 {
	return float64(int(raw)-offset) * c.ADCScale / c.CurrentSenseGain
}

// Reading is a telemetry frame in physical units.
type Reading struct {
	LowVoltage   float64 `json:"low_voltage_v"`
	HighVoltage  float64 `json:"high_voltage_v"`
	Current1     float64 `json:"current1_a"`
	Current2     float64 `json:"current2_a"`
	TotalCurrent float64 `json:"total_current_a"`
	Temperature  float64 `json:"temperature_c"`
	State        int     `json:"state"`
}

// Apply scales every field of f.
func (c Calibration) Apply(f protocol.TelemetryFrame) Reading {
	r := Reading{
		LowVoltage:  c.Volts(f.LowVoltage),
		HighVoltage: c.Volts(f.HighVoltage),
		Current1:    c.Amps(f.Current1, c.Current1Zero),
		Current2:    c.Amps(f.Current2, c.Current2Zero),
		Temperature: c.Celsius(f.Temperature),
		State:       f.State,
	}
	r.TotalCurrent = r.Current1 + r.Current2
	return r
}

// String formats the reading the way the operator panel shows it.
func (r Reading) String() string {
	return fmt.Sprintf("LV %.2f V, HV %.2f V, I1 %.1f A, I2 %.1f A, IT %.1f A, T %.1f °C, state %d",
		r.LowVoltage, r.HighVoltage, r.Current1, r.Current2, r.TotalCurrent, r.Temperature, r.State)
}

package protocol

// TelemetrySize is the length of a telemetry frame.
const TelemetrySize = 15

// Field describes one positional field of a telemetry frame.
type Field struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Width  int    `json:"width"`
	Signed bool   `json:"signed"`
}

// Decode extracts the field from raw. raw must hold at least
// Offset+Width bytes.
func (f Field) Decode(raw []byte) int {
	b := raw[f.Offset : f.Offset+f.Width]
	if f.Signed {
		return DecodeSigned(b)
	}
	return DecodeUnsigned(b)
}

// TelemetryLayout lists the fields of a telemetry frame in wire order.
var TelemetryLayout = [8]Field{
	{Name: "low_voltage", Offset: 0, Width: 2},
	{Name: "high_voltage", Offset: 2, Width: 2},
	{Name: "current1", Offset: 4, Width: 2},
	{Name: "current2", Offset: 6, Width: 2},
	{Name: "aux", Offset: 8, Width: 2, Signed: true},
	{Name: "aux2", Offset: 10, Width: 2},
	{Name: "temperature", Offset: 12, Width: 2},
	{Name: "state", Offset: 14, Width: 1},
}

// TelemetryFrame holds the raw ADC counts and state reported by the device.
// Converting counts to physical units is left to the units package.
type TelemetryFrame struct {
	LowVoltage  int `json:"low_voltage"`
	HighVoltage int `json:"high_voltage"`
	Current1    int `json:"current1"`
	Current2    int `json:"current2"`
	Aux         int `json:"aux"`
	Aux2        int `json:"aux2"`
	Temperature int `json:"temperature"`
	State       int `json:"state"`
}

// FieldValue is a decoded field together with its layout.
type FieldValue struct {
	Field
	Value int `json:"value"`
}

// ParseTelemetry decodes a telemetry frame. Bytes past TelemetrySize are
// ignored. A shorter input fails with an error wrapping ErrFrameTooShort and
// nothing is decoded.
func ParseTelemetry(raw []byte) (TelemetryFrame, error) {
	if len(raw) < TelemetrySize {
		return TelemetryFrame{}, &FrameError{Kind: ErrFrameTooShort, Got: len(raw), Want: TelemetrySize}
	}
	raw = raw[:TelemetrySize]

	var v [len(TelemetryLayout)]int
	for i, f := range TelemetryLayout {
		v[i] = f.Decode(raw)
	}
	return TelemetryFrame{
		LowVoltage:  v[0],
		HighVoltage: v[1],
		Current1:    v[2],
		Current2:    v[3],
		Aux:         v[4],
		Aux2:        v[5],
		Temperature: v[6],
		State:       v[7],
	}, nil
}

// Fields returns the frame's values in wire order, tagged with their layout.
func (f TelemetryFrame) Fields() []FieldValue {
	values := [...]int{
		f.LowVoltage, f.HighVoltage, f.Current1, f.Current2,
		f.Aux, f.Aux2, f.Temperature, f.State,
	}
	out := make([]FieldValue, len(TelemetryLayout))
	for i, field := range TelemetryLayout {
		out[i] = FieldValue{Field: field, Value: values[i]}
	}
	return out
}

// Encode packs the frame back into its 15-byte wire form. Values are
// truncated to their field width. It is used by the simulated device.
func (f TelemetryFrame) Encode() []byte {
	raw := make([]byte, TelemetrySize)
	for _, fv := range f.Fields() {
		raw[fv.Offset] = byte(fv.Value)
		if fv.Width == 2 {
			raw[fv.Offset+1] = byte(fv.Value >> 8)
		}
	}
	return raw
}

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		value  int
		want   []byte
	}{
		{"set reference 300", OpSetReference, 300, []byte{0x65, 0x2C, 0x01, 0x92}},
		{"start without value", OpStart, 0, []byte{0x47, 0x00, 0x00, 0x47}},
		{"stop without value", OpStop, 0, []byte{0x78, 0x00, 0x00, 0x78}},
		{"checksum wraps", OpSetReference, 0xFFFF, []byte{0x65, 0xFF, 0xFF, 0x63}},
		{"value masked to 16 bits", OpSetReference, 0x1012C, []byte{0x65, 0x2C, 0x01, 0x92}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeFrame(tt.opcode, tt.value)
			if !bytes.Equal(got[:], tt.want) {
				t.Errorf("EncodeFrame(%q, %d) = % X, want % X", tt.opcode, tt.value, got[:], tt.want)
			}
			if !got.Valid() {
				t.Errorf("EncodeFrame(%q, %d) produced an invalid checksum", tt.opcode, tt.value)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	if got := EncodeCommand('e', 300); !bytes.Equal(got, []byte{0x65, 0x2C, 0x01, 0x92}) {
		t.Errorf("EncodeCommand('e', 300) = % X", got)
	}
	if got := EncodeCommand('G'); !bytes.Equal(got, []byte{0x47, 0x00, 0x00, 0x47}) {
		t.Errorf("EncodeCommand('G') = % X", got)
	}
}

func TestCommand_Encode(t *testing.T) {
	f := NewValueCommand(OpSetReference, 300).Encode()
	if f.Opcode() != 'e' || f.Value() != 300 || f.Checksum() != 0x92 {
		t.Errorf("frame = % X, want opcode e value 300 checksum 0x92", f[:])
	}
	f = NewCommand(OpStart).Encode()
	if !bytes.Equal(f.Bytes(), []byte{0x47, 0x00, 0x00, 0x47}) {
		t.Errorf("start frame = % X", f.Bytes())
	}
}

func TestCommand_String(t *testing.T) {
	if s := NewValueCommand('e', 42).String(); s != "e(42)" {
		t.Errorf("String() = %q, want %q", s, "e(42)")
	}
	if s := NewCommand('x').String(); s != "x" {
		t.Errorf("String() = %q, want %q", s, "x")
	}
}

func TestDecodeCommandFrame(t *testing.T) {
	cmd, err := DecodeCommandFrame([]byte{0x65, 0x2C, 0x01, 0x92})
	if err != nil {
		t.Fatalf("DecodeCommandFrame() error = %v", err)
	}
	if cmd != NewValueCommand('e', 300) {
		t.Errorf("DecodeCommandFrame() = %+v", cmd)
	}

	if _, err := DecodeCommandFrame([]byte{0x65, 0x2C, 0x01, 0x93}); !errors.Is(err, ErrChecksum) {
		t.Errorf("bad checksum error = %v, want ErrChecksum", err)
	}
	if _, err := DecodeCommandFrame([]byte{0x65, 0x2C}); !errors.Is(err, ErrFrameLength) {
		t.Errorf("short frame error = %v, want ErrFrameLength", err)
	}
}

func TestEncodeDecodeCommandFrame_AllValues(t *testing.T) {
	for v := 0; v <= 0xFFFF; v += 7 {
		f := EncodeFrame(OpSetReference, v)
		cmd, err := DecodeCommandFrame(f[:])
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if int(cmd.Value) != v {
			t.Fatalf("value %d decoded as %d", v, cmd.Value)
		}
	}
}

package protocol

import "fmt"

// DecodeUnsigned combines one or two little-endian bytes into an unsigned
// integer. b[0] is the low-order byte.
//
// Callers always pass exactly one or two bytes; any other length is a
// programming error and panics.
func DecodeUnsigned(b []byte) int {
	switch len(b) {
	case 1:
		return int(b[0])
	case 2:
		return int(b[0]) | int(b[1])<<8
	default:
		panic(fmt.Sprintf("protocol: cannot decode %d-byte integer", len(b)))
	}
}

// DecodeSigned decodes one or two little-endian bytes as a two's-complement
// integer of 8 or 16 bits.
func DecodeSigned(b []byte) int {
	v := DecodeUnsigned(b)
	width := 8 * len(b)
	boundary := 1 << width
	if v&(1<<(width-1)) != 0 {
		return -boundary + (v & (boundary - 1))
	}
	return v
}

// Package protocol implements the binary command and telemetry protocol spoken
// by the power converter firmware over its serial link.
//
// Outgoing commands are four bytes:
//
//	[OPCODE][VALUE_L][VALUE_H][CHECKSUM]
//
// where CHECKSUM is the low byte of OPCODE+VALUE_L+VALUE_H. The device answers a
// command by echoing the opcode, followed by the 16-bit value it applied. A
// telemetry poll is answered with a fixed 15-byte frame of little-endian
// fields (see TelemetryLayout).
//
// The package is pure: it never touches a port and holds no state between
// calls other than the one-shot Verifier. Pairing a write with its reply is the
// caller's job.
package protocol

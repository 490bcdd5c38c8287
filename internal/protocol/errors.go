package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooShort is returned when a telemetry frame has fewer than
	// TelemetrySize bytes.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrFrameLength is returned when a command frame is not CommandSize bytes.
	ErrFrameLength = errors.New("invalid command frame length")

	// ErrChecksum is returned when a command frame's checksum byte does not
	// match the sum of its other bytes.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrResponseTooShort is returned by verification when the reply does not
	// hold the bytes the command's acknowledgment needs.
	ErrResponseTooShort = errors.New("response too short")

	// ErrAlreadyResolved is returned when a Verifier receives a second response.
	ErrAlreadyResolved = errors.New("verifier already resolved")
)

// FrameError describes a frame whose length did not satisfy the protocol.
type FrameError struct {
	// Kind is one of ErrFrameTooShort, ErrFrameLength or ErrResponseTooShort.
	Kind error
	Got  int
	Want int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: got %d bytes, want %d", e.Kind, e.Got, e.Want)
}

func (e *FrameError) Unwrap() error {
	return e.Kind
}

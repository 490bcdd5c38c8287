package serialmux

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/banshee-data/convlink/internal/protocol"
)

// EventType classifies events published to subscribers.
type EventType string

const (
	EventTypeTelemetry EventType = "telemetry"
	EventTypeCommand   EventType = "command"
	EventTypeError     EventType = "error"
)

// Event describes one completed exchange with the device.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Tx and Rx are the hex-encoded bytes written and read.
	Tx string `json:"tx,omitempty"`
	Rx string `json:"rx,omitempty"`

	Telemetry    *protocol.TelemetryFrame `json:"telemetry,omitempty"`
	Verification *protocol.Verification   `json:"verification,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// JSON returns the event encoded as a single line of JSON.
func (e Event) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"type":"error","error":"unencodable event"}`
	}
	return string(b)
}

// TxBytes decodes Tx.
func (e Event) TxBytes() []byte {
	b, _ := hex.DecodeString(e.Tx)
	return b
}

// RxBytes decodes Rx.
func (e Event) RxBytes() []byte {
	b, _ := hex.DecodeString(e.Rx)
	return b
}

package serialmux

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/banshee-data/convlink/internal/protocol"
)

// ErrDeviceDisabled is returned by DisabledSerialMux for every exchange.
var ErrDeviceDisabled = errors.New("converter link disabled")

// DisabledSerialMux is a no-op SerialMux implementation used when no
// converter is attached (for --disable-device). It allows the server and
// admin routes to run without a real device. Subscribers are tracked so their
// channels can be deterministically closed on Unsubscribe() or Close(),
// allowing readers to unblock predictably during shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan Event),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan Event) {
	id := randomID()
	ch := make(chan Event)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendCommand(_ context.Context, cmd protocol.Command) (protocol.Verification, error) {
	return protocol.Verification{Command: cmd, Outcome: protocol.AwaitingResponse}, ErrDeviceDisabled
}

func (d *DisabledSerialMux) PollTelemetry(context.Context) (protocol.TelemetryFrame, error) {
	return protocol.TelemetryFrame{}, ErrDeviceDisabled
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}

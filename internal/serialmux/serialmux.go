// Serialmux provides an abstraction over the converter's serial port: it
// serialises command/response exchanges on the single link and lets multiple
// clients subscribe to the results.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/timeutil"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrNoResponse is returned when the device sends nothing back before the
	// response timeout.
	ErrNoResponse = errors.New("no response from device")
	ErrClosed     = errors.New("serial mux closed")
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// subscriberBuffer is the number of events held for a slow subscriber before
// further events are dropped for it.
const subscriberBuffer = 32

// SerialMux is a connection handle for one converter. Only one exchange is
// in flight at a time; results are fanned out to subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	cfg          Config
	subscribers  map[string]chan Event
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving exchange events. The
	// channel ID is used to identify the unique channel when unsubscribing.
	Subscribe() (string, chan Event)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes a command and verifies the device's acknowledgment.
	SendCommand(context.Context, protocol.Command) (protocol.Verification, error)
	// PollTelemetry requests and parses one telemetry frame.
	PollTelemetry(context.Context) (protocol.TelemetryFrame, error)
	// Monitor polls telemetry periodically until the context is done.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T, opts ...Option) *SerialMux[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if tp, ok := any(port).(TimeoutSerialPorter); ok && cfg.ReadTimeout > 0 {
		if err := tp.SetReadTimeout(cfg.ReadTimeout); err != nil {
			monitoring.Logf("failed to set serial read timeout: %v", err)
		}
	}

	return &SerialMux[T]{
		port:        port,
		cfg:         cfg,
		subscribers: make(map[string]chan Event),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.cfg.Clock.Now()
	}
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// if the channel is full skip so as not to block the exchange
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Exchange writes tx, waits delay, then reads until at least min bytes have
// arrived, the response timeout expires or ctx is done. A reply shorter than
// min is returned without error; the caller decides whether it is usable.
// Write and read errors from the port are returned unchanged.
func (s *SerialMux[T]) Exchange(ctx context.Context, tx []byte, delay time.Duration, min int) ([]byte, error) {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	if s.isClosing() {
		return nil, ErrClosed
	}

	if r, ok := any(s.port).(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			monitoring.Logf("failed to discard stale serial input: %v", err)
		}
	}

	n, err := s.port.Write(tx)
	if err != nil {
		return nil, err
	}
	if n != len(tx) {
		return nil, ErrWriteFailed
	}
	monitoring.Debugf("serial tx % X", tx)

	if err := timeutil.Wait(ctx, s.cfg.Clock, delay); err != nil {
		return nil, err
	}

	rx, err := s.readResponse(ctx, min)
	if len(rx) > 0 {
		monitoring.Debugf("serial rx % X", rx)
	}
	return rx, err
}

func (s *SerialMux[T]) readResponse(ctx context.Context, min int) ([]byte, error) {
	buf := make([]byte, 0, min)
	chunk := make([]byte, 64)
	deadline := s.cfg.Clock.After(s.cfg.ResponseTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.port.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
		if len(buf) >= min {
			return buf, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return buf, nil
		default:
		}
	}
}

// encode returns the bytes sent for cmd.
func (s *SerialMux[T]) encode(cmd protocol.Command) []byte {
	if s.cfg.BareOpcodes && !cmd.HasValue {
		return []byte{cmd.Opcode}
	}
	return cmd.Encode().Bytes()
}

// ackLength is the number of reply bytes read for cmd: the opcode echo, plus
// the echoed value for commands with an argument and for start, whose reply
// carries Iset_adc.
func ackLength(cmd protocol.Command) int {
	if cmd.HasValue || cmd.Opcode == protocol.OpStart {
		return 3
	}
	return 1
}

// SendCommand sends cmd and verifies the acknowledgment. Transport errors are
// returned as-is; a silent device yields ErrNoResponse.
func (s *SerialMux[T]) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Verification, error) {
	pending := protocol.Verification{Command: cmd, Outcome: protocol.AwaitingResponse}
	tx := s.encode(cmd)

	rx, err := s.Exchange(ctx, tx, s.cfg.AckDelay, ackLength(cmd))
	if err != nil {
		s.fail(tx, rx, fmt.Errorf("command %s: %w", cmd, err))
		return pending, err
	}
	if len(rx) == 0 {
		s.fail(tx, rx, fmt.Errorf("command %s: %w", cmd, ErrNoResponse))
		return pending, ErrNoResponse
	}

	v, err := protocol.Verify(cmd, rx)
	if err != nil {
		s.fail(tx, rx, fmt.Errorf("command %s: %w", cmd, err))
		return pending, err
	}

	s.publish(Event{
		Type:         EventTypeCommand,
		Tx:           hex.EncodeToString(tx),
		Rx:           hex.EncodeToString(rx),
		Verification: &v,
	})
	return v, nil
}

// PollTelemetry sends OpPoll and parses the reply. A short reply fails with
// an error wrapping protocol.ErrFrameTooShort.
func (s *SerialMux[T]) PollTelemetry(ctx context.Context) (protocol.TelemetryFrame, error) {
	tx := s.encode(protocol.NewCommand(protocol.OpPoll))

	rx, err := s.Exchange(ctx, tx, s.cfg.TelemetryDelay, protocol.TelemetrySize)
	if err != nil {
		s.fail(tx, rx, fmt.Errorf("telemetry poll: %w", err))
		return protocol.TelemetryFrame{}, err
	}

	frame, err := protocol.ParseTelemetry(rx)
	if err != nil {
		s.fail(tx, rx, fmt.Errorf("telemetry poll: %w", err))
		return frame, err
	}

	s.publish(Event{
		Type:      EventTypeTelemetry,
		Tx:        hex.EncodeToString(tx),
		Rx:        hex.EncodeToString(rx),
		Telemetry: &frame,
	})
	return frame, nil
}

func (s *SerialMux[T]) fail(tx, rx []byte, err error) {
	s.publish(Event{
		Type:  EventTypeError,
		Tx:    hex.EncodeToString(tx),
		Rx:    hex.EncodeToString(rx),
		Error: err.Error(),
	})
}

// Monitor polls telemetry every PollInterval and publishes the frames to
// subscribers. Malformed or missing frames are logged and polling continues;
// any other port error ends the loop. With polling disabled Monitor blocks
// until ctx is done.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		if err := timeutil.Wait(ctx, s.cfg.Clock, s.cfg.PollInterval); err != nil {
			return err
		}
		if s.isClosing() {
			return nil
		}

		_, err := s.PollTelemetry(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, protocol.ErrFrameTooShort):
			monitoring.Logf("telemetry poll failed: %v", err)
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return err
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	return s.port.Close()
}

// parseCommandForm reads an opcode and optional value from a form.
func parseCommandForm(r *http.Request) (protocol.Command, error) {
	opcode := strings.TrimSpace(r.FormValue("opcode"))
	if len(opcode) != 1 {
		return protocol.Command{}, fmt.Errorf("opcode must be a single character")
	}
	value := strings.TrimSpace(r.FormValue("value"))
	if value == "" {
		return protocol.NewCommand(opcode[0]), nil
	}
	v, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("value must be an integer between 0 and 65535")
	}
	return protocol.NewValueCommand(opcode[0], uint16(v)), nil
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below API endpoints.
	debug.HandleFunc("send-command", "send a command to the converter", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to send a command and report the verification outcome
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cmd, err := parseCommandForm(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v, err := s.SendCommand(r.Context(), cmd)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to send command: %v", err), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %s: %s", cmd, v.Outcome))
	})

	debug.HandleSilentFunc("poll", func(w http.ResponseWriter, r *http.Request) {
		frame, err := s.PollTelemetry(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to poll telemetry: %v", err), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, Event{Type: EventTypeTelemetry, Telemetry: &frame}.JSON())
	})

	// API endpoint to issue Server-Side Events (SSE) for every exchange.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", ev.JSON())))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

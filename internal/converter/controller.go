// Package converter implements the operator-level controls of a converter
// link: polling telemetry, starting and stopping the converter and managing
// its current set-point.
package converter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/convlink/internal/db"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
	"github.com/banshee-data/convlink/internal/timeutil"
	"github.com/banshee-data/convlink/internal/units"
)

// Link is the part of a serial mux the controller drives.
type Link interface {
	Subscribe() (string, chan serialmux.Event)
	Unsubscribe(string)
	SendCommand(context.Context, protocol.Command) (protocol.Verification, error)
	PollTelemetry(context.Context) (protocol.TelemetryFrame, error)
}

// Recorder persists exchanges.
type Recorder interface {
	RecordTelemetry(at time.Time, frame protocol.TelemetryFrame, raw []byte) (string, error)
	RecordCommand(rec db.CommandRecord) (string, error)
}

// SetpointStore keeps the set-point across restarts.
type SetpointStore interface {
	SaveSetpoint(db.Setpoint) error
	LoadSetpoint() (db.Setpoint, bool, error)
}

// Options configures a Controller. Recorder, Setpoints and Metrics may be nil.
type Options struct {
	Calibration units.Calibration
	// Offset is the initial reference offset in ADC counts. A stored
	// set-point takes precedence.
	Offset    int
	Recorder  Recorder
	Setpoints SetpointStore
	Metrics   *monitoring.LinkMetrics
	Clock     timeutil.Clock
}

// Setpoint is the current reference the operator asked for.
type Setpoint struct {
	CurrentAmps  float64   `json:"current_amps"`
	OffsetADC    int       `json:"offset_adc"`
	ReferenceADC uint16    `json:"reference_adc"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Snapshot is a telemetry frame with its converted reading.
type Snapshot struct {
	Time    time.Time               `json:"time"`
	Frame   protocol.TelemetryFrame `json:"frame"`
	Reading units.Reading           `json:"reading"`
}

// Controller issues operator commands over a Link.
type Controller struct {
	link Link
	opts Options

	mu        sync.Mutex
	setpoint  Setpoint
	latest    Snapshot
	hasLatest bool
}

// New returns a controller for link. The stored set-point, if any, is
// restored.
func New(link Link, opts Options) (*Controller, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Calibration == (units.Calibration{}) {
		opts.Calibration = units.DefaultCalibration()
	}

	c := &Controller{
		link:     link,
		opts:     opts,
		setpoint: Setpoint{OffsetADC: opts.Offset},
	}

	if opts.Setpoints != nil {
		sp, ok, err := opts.Setpoints.LoadSetpoint()
		if err != nil {
			return nil, fmt.Errorf("failed to load setpoint: %w", err)
		}
		if ok {
			c.setpoint = Setpoint{
				CurrentAmps:  sp.CurrentAmps,
				OffsetADC:    sp.OffsetADC,
				ReferenceADC: uint16(sp.ReferenceADC),
				UpdatedAt:    sp.UpdatedAt,
			}
			monitoring.Logf("Restored set-point %.2f A (Iset_adc = %d).", sp.CurrentAmps, sp.ReferenceADC)
		}
	}
	return c, nil
}

// Calibration returns the calibration used for readings and references.
func (c *Controller) Calibration() units.Calibration {
	return c.opts.Calibration
}

// Poll reads one telemetry frame and converts it.
func (c *Controller) Poll(ctx context.Context) (Snapshot, error) {
	frame, err := c.link.PollTelemetry(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := c.observe(c.opts.Clock.Now(), frame)
	monitoring.Logf("Data received. System state:%d.", frame.State)
	return snap, nil
}

func (c *Controller) observe(at time.Time, frame protocol.TelemetryFrame) Snapshot {
	snap := Snapshot{Time: at, Frame: frame, Reading: c.opts.Calibration.Apply(frame)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLatest || !at.Before(c.latest.Time) {
		c.latest = snap
		c.hasLatest = true
	}
	return snap
}

// Latest returns the most recent telemetry seen from any poll.
func (c *Controller) Latest() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.hasLatest
}

func logVerificationFailure(v protocol.Verification) {
	switch v.Outcome {
	case protocol.ValueMismatch:
		monitoring.Logf("Error. Verification failed. TX = %d, RX = %d", v.Expected, v.Actual)
	default:
		monitoring.Logf("Error. Verification failed.")
	}
}

// Start starts the converter. On success the verification's Echo holds the
// reference the firmware regulates to.
func (c *Controller) Start(ctx context.Context) (protocol.Verification, error) {
	v, err := c.link.SendCommand(ctx, protocol.NewCommand(protocol.OpStart))
	if err != nil {
		return v, err
	}
	if !v.Ok() {
		logVerificationFailure(v)
		return v, nil
	}
	if v.HasEcho {
		monitoring.Logf("Starting boost. Iset_adc = %d.", v.Echo)
	} else {
		monitoring.Logf("Starting boost.")
	}
	return v, nil
}

// Stop shuts the converter down.
func (c *Controller) Stop(ctx context.Context) (protocol.Verification, error) {
	v, err := c.link.SendCommand(ctx, protocol.NewCommand(protocol.OpStop))
	if err != nil {
		return v, err
	}
	if !v.Ok() {
		logVerificationFailure(v)
		return v, nil
	}
	monitoring.Logf("Shutting down.")
	return v, nil
}

// Setpoint returns the last acknowledged set-point.
func (c *Controller) Setpoint() Setpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// SetOffset changes the reference offset used by later SetCurrent calls. It
// sends nothing.
func (c *Controller) SetOffset(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint.OffsetADC = offset
}

// Preview returns the reference SetCurrent would send for amps.
func (c *Controller) Preview(amps float64) (uint16, error) {
	return c.opts.Calibration.ReferenceADC(amps, c.Setpoint().OffsetADC)
}

// SetReference sends a raw 16-bit reference. The set-point's current is
// derived back from raw. As with every command, a mismatched acknowledgment
// is reported in the verification rather than as an error; the set-point is
// only updated once the device echoes the value.
func (c *Controller) SetReference(ctx context.Context, raw uint16) (protocol.Verification, error) {
	offset := c.Setpoint().OffsetADC
	amps := c.opts.Calibration.ReferenceAmps(raw, offset)
	return c.sendReference(ctx, raw, amps, offset)
}

// SetCurrent converts amps to a reference with the current offset and sends
// it.
func (c *Controller) SetCurrent(ctx context.Context, amps float64) (protocol.Verification, error) {
	offset := c.Setpoint().OffsetADC
	raw, err := c.opts.Calibration.ReferenceADC(amps, offset)
	if err != nil {
		return protocol.Verification{}, err
	}
	return c.sendReference(ctx, raw, amps, offset)
}

// Increment adds delta amps to the set-point and sends the new reference.
func (c *Controller) Increment(ctx context.Context, delta float64) (protocol.Verification, error) {
	return c.SetCurrent(ctx, c.Setpoint().CurrentAmps+delta)
}

func (c *Controller) sendReference(ctx context.Context, raw uint16, amps float64, offset int) (protocol.Verification, error) {
	v, err := c.link.SendCommand(ctx, protocol.NewValueCommand(protocol.OpSetReference, raw))
	if err != nil {
		return v, err
	}
	if !v.Ok() {
		logVerificationFailure(v)
		return v, nil
	}
	monitoring.Logf("Command sent. Iset_adc = %d.", raw)

	sp := Setpoint{
		CurrentAmps:  math.Round(amps*1000) / 1000,
		OffsetADC:    offset,
		ReferenceADC: raw,
		UpdatedAt:    c.opts.Clock.Now(),
	}
	c.mu.Lock()
	c.setpoint = sp
	c.mu.Unlock()

	if c.opts.Setpoints != nil {
		if err := c.opts.Setpoints.SaveSetpoint(db.Setpoint{
			CurrentAmps:  sp.CurrentAmps,
			OffsetADC:    sp.OffsetADC,
			ReferenceADC: int(sp.ReferenceADC),
			UpdatedAt:    sp.UpdatedAt,
		}); err != nil {
			monitoring.Logf("failed to persist set-point: %v", err)
		}
	}
	return v, nil
}

// Send issues an arbitrary command. A reference command goes through
// SetReference so the stored set-point follows the device.
func (c *Controller) Send(ctx context.Context, cmd protocol.Command) (protocol.Verification, error) {
	if cmd.Opcode == protocol.OpSetReference && cmd.HasValue {
		return c.SetReference(ctx, cmd.Value)
	}
	v, err := c.link.SendCommand(ctx, cmd)
	if err != nil {
		return v, err
	}
	if !v.Ok() {
		logVerificationFailure(v)
	}
	return v, nil
}

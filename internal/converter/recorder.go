package converter

import (
	"context"

	"github.com/banshee-data/convlink/internal/db"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
)

// Run records every exchange on the link until ctx is done or the link is
// closed. Explicit polls and commands as well as the mux's own Monitor polls
// all pass through here, so each exchange is stored and counted once.
func (c *Controller) Run(ctx context.Context) error {
	id, events := c.link.Subscribe()
	defer c.link.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.HandleEvent(ev); err != nil {
				monitoring.Logf("error handling event: %v", err)
			}
		}
	}
}

// HandleEvent records a single link event and updates the metrics.
func (c *Controller) HandleEvent(ev serialmux.Event) error {
	switch ev.Type {
	case serialmux.EventTypeTelemetry:
		if ev.Telemetry == nil {
			return nil
		}
		snap := c.observe(ev.Time, *ev.Telemetry)
		if m := c.opts.Metrics; m != nil {
			m.Polls.WithLabelValues("ok").Inc()
			m.Temperature.Set(snap.Reading.Temperature)
		}
		if c.opts.Recorder != nil {
			if _, err := c.opts.Recorder.RecordTelemetry(ev.Time, *ev.Telemetry, ev.RxBytes()); err != nil {
				return err
			}
		}

	case serialmux.EventTypeCommand:
		if ev.Verification == nil {
			return nil
		}
		v := *ev.Verification
		if m := c.opts.Metrics; m != nil {
			m.Commands.WithLabelValues(string(v.Command.Opcode), v.Outcome.String()).Inc()
			if v.Command.Opcode == protocol.OpSetReference && v.Ok() {
				m.Setpoint.Set(float64(v.Command.Value))
			}
		}
		return c.recordCommand(ev, v, "")

	case serialmux.EventTypeError:
		tx := ev.TxBytes()
		if len(tx) == 0 {
			return nil
		}
		if tx[0] == protocol.OpPoll {
			if m := c.opts.Metrics; m != nil {
				m.Polls.WithLabelValues("error").Inc()
			}
			return nil
		}
		cmd := commandFromTx(tx)
		if m := c.opts.Metrics; m != nil {
			m.Commands.WithLabelValues(string(cmd.Opcode), "error").Inc()
		}
		return c.recordCommand(ev, protocol.Verification{Command: cmd}, ev.Error)
	}
	return nil
}

// commandFromTx recovers the command from the bytes that were written.
func commandFromTx(tx []byte) protocol.Command {
	if cmd, err := protocol.DecodeCommandFrame(tx); err == nil {
		if cmd.Opcode != protocol.OpSetReference {
			return protocol.NewCommand(cmd.Opcode)
		}
		return cmd
	}
	return protocol.NewCommand(tx[0])
}

func (c *Controller) recordCommand(ev serialmux.Event, v protocol.Verification, errText string) error {
	if c.opts.Recorder == nil {
		return nil
	}
	rec := db.CommandRecord{
		Time:    ev.Time,
		Opcode:  string(v.Command.Opcode),
		Outcome: v.Outcome.String(),
		Tx:      ev.TxBytes(),
		Rx:      ev.RxBytes(),
		Error:   errText,
	}
	if v.Command.HasValue {
		value := int(v.Command.Value)
		rec.Value = &value
	}
	if v.HasEcho {
		echo := int(v.Echo)
		rec.Echo = &echo
	}
	_, err := c.opts.Recorder.RecordCommand(rec)
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/protocol"
)

// Operator is what the console drives: a local controller or a remote
// server.
type Operator interface {
	Poll(ctx context.Context) (converter.Snapshot, error)
	Start(ctx context.Context) (protocol.Verification, error)
	Stop(ctx context.Context) (protocol.Verification, error)
	Send(ctx context.Context, cmd protocol.Command) (protocol.Verification, error)
	SetCurrent(ctx context.Context, amps float64) (protocol.Verification, error)
	SetReference(ctx context.Context, raw uint16) (protocol.Verification, error)
	SetOffset(ctx context.Context, offset int) error
	Increment(ctx context.Context, delta float64) (protocol.Verification, error)
	Setpoint(ctx context.Context) (converter.Setpoint, error)
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Console reads operator commands and prints the results.
type Console struct {
	op  Operator
	out io.Writer
}

func NewConsole(op Operator, out io.Writer) *Console {
	return &Console{op: op, out: out}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("read"),
	readline.PcItem("start"),
	readline.PcItem("stop"),
	readline.PcItem("set"),
	readline.PcItem("iref"),
	readline.PcItem("offset"),
	readline.PcItem("inc"),
	readline.PcItem("raw"),
	readline.PcItem("status"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

// Run reads lines until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, rl *readline.Instance) {
	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}

		if err := c.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(c.out, "Exiting...")
				return
			}
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// Exec runs one command line. It returns errQuit for quit.
func (c *Console) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "read", "r":
		return c.cmdRead(ctx)
	case "start":
		v, err := c.op.Start(ctx)
		if err != nil {
			return err
		}
		if c.printVerification(v) {
			fmt.Fprintf(c.out, "Starting boost. Iset_adc = %d.\n", v.Echo)
		}
		return nil
	case "stop":
		v, err := c.op.Stop(ctx)
		if err != nil {
			return err
		}
		if c.printVerification(v) {
			fmt.Fprintln(c.out, "Shutting down.")
		}
		return nil
	case "set":
		amps, err := floatArg(args, "set <amps>")
		if err != nil {
			return err
		}
		return c.reference(c.op.SetCurrent(ctx, amps))
	case "inc":
		delta, err := floatArg(args, "inc <delta amps>")
		if err != nil {
			return err
		}
		return c.reference(c.op.Increment(ctx, delta))
	case "iref":
		if len(args) != 1 {
			return fmt.Errorf("usage: iref <0-65535>")
		}
		raw, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("reference must be an integer between 0 and 65535")
		}
		return c.reference(c.op.SetReference(ctx, uint16(raw)))
	case "offset":
		if len(args) != 1 {
			return fmt.Errorf("usage: offset <adc counts>")
		}
		offset, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("offset must be an integer")
		}
		if err := c.op.SetOffset(ctx, offset); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Offset set to %d.\n", offset)
		return nil
	case "raw":
		command, err := rawCommand(args)
		if err != nil {
			return err
		}
		v, err := c.op.Send(ctx, command)
		if err != nil {
			return err
		}
		if c.printVerification(v) {
			fmt.Fprintf(c.out, "Sent %s: %s\n", command, v.Outcome)
		}
		return nil
	case "status":
		sp, err := c.op.Setpoint(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Set-point %.3f A, Iset_adc = %d, offset %d.\n", sp.CurrentAmps, sp.ReferenceADC, sp.OffsetADC)
		return nil
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (c *Console) cmdRead(ctx context.Context) error {
	snap, err := c.op.Poll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Data received. System state:%d.\n", snap.Frame.State)
	fmt.Fprintln(c.out, snap.Reading)
	return nil
}

// reference prints the outcome of a reference command.
func (c *Console) reference(v protocol.Verification, err error) error {
	if err != nil {
		return err
	}
	if c.printVerification(v) {
		fmt.Fprintf(c.out, "Command sent. Iset_adc = %d.\n", v.Command.Value)
	}
	return nil
}

// printVerification reports a failed acknowledgment and returns whether it
// matched.
func (c *Console) printVerification(v protocol.Verification) bool {
	switch v.Outcome {
	case protocol.Matched:
		return true
	case protocol.ValueMismatch:
		fmt.Fprintf(c.out, "Error. Verification failed. TX = %d, RX = %d\n", v.Expected, v.Actual)
	default:
		fmt.Fprintln(c.out, "Error. Verification failed.")
	}
	return false
}

func floatArg(args []string, usage string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	f, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[0])
	}
	return f, nil
}

func rawCommand(args []string) (protocol.Command, error) {
	if len(args) < 1 || len(args) > 2 || len(args[0]) != 1 {
		return protocol.Command{}, fmt.Errorf("usage: raw <opcode> [value]")
	}
	op := args[0][0]
	if len(args) == 1 {
		return protocol.NewCommand(op), nil
	}
	v, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("value must be an integer between 0 and 65535")
	}
	return protocol.NewValueCommand(op, uint16(v)), nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Converter Commands:
    read               - Poll a telemetry frame
    start              - Start the converter
    stop               - Shut the converter down
    set <amps>         - Set the current set-point
    inc <amps>         - Add to the current set-point
    iref <raw>         - Send a raw 16-bit reference
    offset <counts>    - Set the reference offset (sends nothing)
    raw <op> [value]   - Send any command
    status             - Show the set-point
    help               - Show this help
    quit               - Exit`)
}

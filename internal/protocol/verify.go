package protocol

import "fmt"

// Outcome is the state of a command acknowledgment.
type Outcome int

const (
	// AwaitingResponse is the state right after a command was sent.
	AwaitingResponse Outcome = iota
	// Matched means the device echoed the opcode and, for commands with an
	// argument, the value.
	Matched
	// OpcodeMismatch means the reply's first byte is not the sent opcode.
	OpcodeMismatch
	// ValueMismatch means the opcode matched but the echoed value did not.
	ValueMismatch
)

func (o Outcome) String() string {
	switch o {
	case AwaitingResponse:
		return "awaiting_response"
	case Matched:
		return "matched"
	case OpcodeMismatch:
		return "opcode_mismatch"
	case ValueMismatch:
		return "value_mismatch"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name produced by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{AwaitingResponse, Matched, OpcodeMismatch, ValueMismatch} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Verification is the result of checking one reply against one command.
type Verification struct {
	Command Command `json:"command"`
	Outcome Outcome `json:"outcome"`
	// Expected and Actual are set for ValueMismatch.
	Expected uint16 `json:"expected,omitempty"`
	Actual   uint16 `json:"actual,omitempty"`
	// Echo is the 16-bit value at reply bytes 1..3, when the reply has them.
	// For OpStart this is the firmware's Iset_adc.
	Echo    uint16 `json:"echo"`
	HasEcho bool   `json:"has_echo"`
}

// Ok reports whether the acknowledgment matched.
func (v Verification) Ok() bool {
	return v.Outcome == Matched
}

func (v Verification) String() string {
	switch v.Outcome {
	case ValueMismatch:
		return fmt.Sprintf("%s: %s (tx=%d rx=%d)", v.Command, v.Outcome, v.Expected, v.Actual)
	default:
		return fmt.Sprintf("%s: %s", v.Command, v.Outcome)
	}
}

// Verifier checks the single reply to an outstanding command. It starts in
// AwaitingResponse and moves to a terminal outcome on the first successful
// Receive.
type Verifier struct {
	cmd    Command
	result Verification
}

// NewVerifier returns a verifier for a command that has just been sent.
func NewVerifier(cmd Command) *Verifier {
	return &Verifier{
		cmd:    cmd,
		result: Verification{Command: cmd, Outcome: AwaitingResponse},
	}
}

// State returns the current outcome.
func (v *Verifier) State() Outcome {
	return v.result.Outcome
}

// Receive checks resp against the command. A reply too short to evaluate
// leaves the verifier waiting and returns an error wrapping
// ErrResponseTooShort.
func (v *Verifier) Receive(resp []byte) (Verification, error) {
	if v.result.Outcome != AwaitingResponse {
		return v.result, ErrAlreadyResolved
	}

	need := 1
	if v.cmd.HasValue {
		need = 3
	}
	if len(resp) < need {
		return v.result, &FrameError{Kind: ErrResponseTooShort, Got: len(resp), Want: need}
	}

	res := Verification{Command: v.cmd}
	if len(resp) >= 3 {
		res.Echo = uint16(DecodeUnsigned(resp[1:3]))
		res.HasEcho = true
	}

	switch {
	case DecodeUnsigned(resp[0:1]) != int(v.cmd.Opcode):
		res.Outcome = OpcodeMismatch
	case !v.cmd.HasValue:
		res.Outcome = Matched
	case res.Echo == v.cmd.Value:
		res.Outcome = Matched
	default:
		res.Outcome = ValueMismatch
		res.Expected = v.cmd.Value
		res.Actual = res.Echo
	}

	v.result = res
	return res, nil
}

// Verify checks a single reply against cmd.
func Verify(cmd Command, resp []byte) (Verification, error) {
	return NewVerifier(cmd).Receive(resp)
}

// EchoedValue decodes the 16-bit value a device echoes after the opcode.
func EchoedValue(resp []byte) (uint16, error) {
	if len(resp) < 3 {
		return 0, &FrameError{Kind: ErrResponseTooShort, Got: len(resp), Want: 3}
	}
	return uint16(DecodeUnsigned(resp[1:3])), nil
}

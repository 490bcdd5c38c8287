package api

import (
	"net/http"

	"github.com/banshee-data/convlink/internal/protocol"
)

// CommandRequest is the body of POST /api/commands. Value is optional.
type CommandRequest struct {
	Opcode string  `json:"opcode"`
	Value  *uint16 `json:"value,omitempty"`
}

// Command validates the request.
func (c CommandRequest) Command() (protocol.Command, bool) {
	if len(c.Opcode) != 1 {
		return protocol.Command{}, false
	}
	if c.Value == nil {
		return protocol.NewCommand(c.Opcode[0]), true
	}
	return protocol.NewValueCommand(c.Opcode[0], *c.Value), true
}

// VerificationResponse reports a command's acknowledgment.
type VerificationResponse struct {
	Command      string                `json:"command"`
	Ok           bool                  `json:"ok"`
	Verification protocol.Verification `json:"verification"`
}

func verificationResponse(v protocol.Verification) VerificationResponse {
	return VerificationResponse{Command: v.Command.String(), Ok: v.Ok(), Verification: v}
}

func (s *Server) commands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCommands(w, r)
	case http.MethodPost:
		s.sendCommand(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit, err := limitParam(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.db.RecentCommands(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, ok := req.Command()
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "opcode must be a single character")
		return
	}
	if cmd.Opcode == protocol.OpPoll {
		writeJSONError(w, http.StatusBadRequest, "use /api/telemetry to poll")
		return
	}

	v, err := s.ctrl.Send(r.Context(), cmd)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse(v))
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	v, err := s.ctrl.Start(r.Context())
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse(v))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	v, err := s.ctrl.Stop(r.Context())
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse(v))
}

package api

import (
	"math"
	"net/http"

	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/protocol"
)

// SetpointRequest is the body of POST /api/setpoint. Offset, when present,
// is applied before Amps. Amps and Reference are mutually exclusive.
type SetpointRequest struct {
	Amps      *float64 `json:"amps,omitempty"`
	Reference *uint16  `json:"reference,omitempty"`
	Offset    *int     `json:"offset,omitempty"`
}

// IncrementRequest is the body of POST /api/setpoint/increment.
type IncrementRequest struct {
	Delta float64 `json:"delta"`
}

// SetpointResponse carries the set-point after a request and, when a
// command was sent, its acknowledgment.
type SetpointResponse struct {
	Setpoint     converter.Setpoint     `json:"setpoint"`
	Verification *VerificationResponse `json:"verification,omitempty"`
}

func (s *Server) setpointResponse(v *protocol.Verification) SetpointResponse {
	resp := SetpointResponse{Setpoint: s.ctrl.Setpoint()}
	if v != nil {
		vr := verificationResponse(*v)
		resp.Verification = &vr
	}
	return resp
}

func (s *Server) setpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.setpointResponse(nil))
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}

	var req SetpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.Amps != nil && req.Reference != nil:
		writeJSONError(w, http.StatusBadRequest, "amps and reference are mutually exclusive")
		return
	case req.Amps == nil && req.Reference == nil && req.Offset == nil:
		writeJSONError(w, http.StatusBadRequest, "one of amps, reference or offset is required")
		return
	case req.Amps != nil && (math.IsNaN(*req.Amps) || math.IsInf(*req.Amps, 0)):
		writeJSONError(w, http.StatusBadRequest, "amps must be finite")
		return
	}

	if req.Offset != nil {
		s.ctrl.SetOffset(*req.Offset)
	}

	var (
		v   protocol.Verification
		err error
	)
	switch {
	case req.Amps != nil:
		v, err = s.ctrl.SetCurrent(r.Context(), *req.Amps)
	case req.Reference != nil:
		v, err = s.ctrl.SetReference(r.Context(), *req.Reference)
	default:
		writeJSON(w, http.StatusOK, s.setpointResponse(nil))
		return
	}
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.setpointResponse(&v))
}

func (s *Server) increment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req IncrementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.ctrl.Increment(r.Context(), req.Delta)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.setpointResponse(&v))
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-insteon/internal/audit"
	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
)

// defaultRequester is credited for commands that name no source and
// arrive without an authenticated caller.
const defaultRequester = "api"

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Command   string   `json:"command"`
	Level     *float64 `json:"level,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// commandResponse is the JSON view of a tracked command.
type commandResponse struct {
	RequestID   string     `json:"request_id"`
	DeviceID    string     `json:"device_id"`
	Address     string     `json:"address"`
	Command     string     `json:"command"`
	Level       *float64   `json:"level,omitempty"`
	Requester   string     `json:"requester,omitempty"`
	State       string     `json:"state"`
	Message     string     `json:"message,omitempty"`
	Interface   string     `json:"interface,omitempty"`
	TimedOut    bool       `json:"timed_out,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func newCommandResponse(cmd insteon.Command) commandResponse {
	return commandResponse{
		RequestID:   cmd.RequestID,
		DeviceID:    cmd.DeviceID,
		Address:     cmd.Address,
		Command:     cmd.Label,
		Level:       cmd.Level,
		Requester:   cmd.Requester,
		State:       cmd.State.String(),
		Message:     cmd.Message,
		Interface:   cmd.Interface,
		TimedOut:    cmd.TimedOut,
		CreatedAt:   cmd.CreatedAt,
		SentAt:      optionalTime(cmd.SentAt),
		FinalizedAt: optionalTime(cmd.FinalizedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// handleSubmitCommand sends a command to a device through the bridge.
//
// A 202 means the command was accepted and tracked; its outcome is reported
// on the ack topic, the WebSocket stream and GET /commands/{id}. Rejections
// carry the same error code an MQTT caller would see in its ack.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}
	if len(req.RequestID) > maxQueryParamLen {
		writeBadRequest(w, "request_id exceeds maximum length")
		return
	}

	requester := req.Source
	if requester == "" {
		requester = defaultRequester
		if claims := claimsFromContext(r.Context()); claims != nil {
			requester = "user:" + claims.Subject
		}
	}

	cmd, err := s.bridge.SubmitCommand(r.Context(), req.RequestID, deviceID, req.Command, req.Level, requester)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newCommandResponse(cmd))
}

// handleGetCommand returns the current state of a tracked command.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid command ID")
		return
	}

	cmd, err := s.bridge.Command(id)
	if err != nil {
		if errors.Is(err, insteon.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		writeInternalError(w, "failed to get command")
		return
	}

	writeJSON(w, http.StatusOK, newCommandResponse(cmd))
}

// handleListCommands returns finalized commands from the command log,
// newest first.
//
// Query parameters:
//   - device_id, request_id, requester: exact match filters
//   - state: done or failed
//   - limit (default 50, max 200), offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeUnavailable(w, "command log unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID:  q.Get("device_id"),
		RequestID: q.Get("request_id"),
		Requester: q.Get("requester"),
		State:     strings.ToLower(q.Get("state")),
	}
	for _, v := range []string{filter.DeviceID, filter.RequestID, filter.Requester} {
		if len(v) > maxQueryParamLen {
			writeBadRequest(w, "query parameter exceeds maximum length")
			return
		}
	}
	if filter.State != "" && filter.State != insteon.StateDone.String() && filter.State != insteon.StateFailed.String() {
		writeBadRequest(w, "state must be done or failed")
		return
	}

	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	if raw := q.Get("offset"); raw != "" {
		offset, convErr := strconv.Atoi(raw)
		if convErr != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeCommandError maps a bridge rejection to an HTTP status.
func writeCommandError(w http.ResponseWriter, err error) {
	code := insteon.ErrorCode(err)

	var status int
	switch code {
	case insteon.ErrCodeNotConfigured:
		status = http.StatusNotFound
	case insteon.ErrCodeInvalidCommand:
		status = http.StatusBadRequest
	case insteon.ErrCodeNotMyDevice, insteon.ErrCodeDuplicate:
		status = http.StatusConflict
	case insteon.ErrCodeNoActiveInterface, insteon.ErrCodeUnhealthy:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
	}

	writeError(w, status, code, err.Error())
}

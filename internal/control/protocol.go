// Package control defines the daemon's control socket protocol and a client
// for it.
//
// Protocol: line-delimited JSON over a unix domain socket.
//   - Client sends: {"type": "command", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
package control

import (
	"encoding/json"
	"fmt"

	"actionrepeater/internal/action"
	"actionrepeater/internal/options"
)

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/actionrepeater.sock"

// Command names.
const (
	CmdStatus          = "status"
	CmdRecordStart     = "record_start"
	CmdRecordStop      = "record_stop"
	CmdRecordToggle    = "record_toggle"
	CmdPlay            = "play"
	CmdCancel          = "cancel"
	CmdList            = "list"
	CmdAdd             = "add"
	CmdInsert          = "insert"
	CmdRemove          = "remove"
	CmdReplace         = "replace"
	CmdClearActions    = "clear_actions"
	CmdClearCursorPath = "clear_cursor_path"
	CmdClearAll        = "clear_all"
	CmdGetOptions      = "get_options"
	CmdSetOptions      = "set_options"
	CmdExport          = "export"
	CmdImport          = "import"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one command line sent by a client.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request, marshaling payload unless it is nil.
func NewRequest(typ string, payload any) (Request, error) {
	req := Request{Type: typ}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	req.Data = data
	return req, nil
}

// OK builds a success response carrying payload (which may be nil).
func OK(payload any) Response {
	if payload == nil {
		return Response{Status: StatusOK}
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Response{Status: StatusOK, Data: raw}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Fail(fmt.Errorf("marshal response: %w", err))
	}
	return Response{Status: StatusOK, Data: data}
}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

// ============================================================================
// Payloads
// ============================================================================

// Status is the CmdStatus reply.
type Status struct {
	Recording bool   `json:"recording"`
	Playing   bool   `json:"playing"`
	Session   string `json:"session,omitempty"`
	// Actions counts the filtered view; TotalActions the full list.
	Actions       int  `json:"actions"`
	TotalActions  int  `json:"total_actions"`
	HasCursorPath bool `json:"has_cursor_path"`
	Movements     int  `json:"movements"`
	// HooksInstalled reports whether input capture is hooked in.
	HooksInstalled bool `json:"hooks_installed"`
	// Watchers counts connected state WebSocket clients.
	Watchers int `json:"watchers"`
}

// ListRequest selects the full list instead of the filtered view.
type ListRequest struct {
	All bool `json:"all,omitempty"`
}

// ListEntry is one listed action.
type ListEntry struct {
	Index       int             `json:"index"`
	Description string          `json:"description"`
	Action      action.Envelope `json:"action"`
	// FullIndex is the position in the full list; -1 for a wait that only
	// exists in the filtered view.
	FullIndex int `json:"full_index"`
	// Folded marks a view wait standing in for an autorepeat run. It cannot
	// be removed or replaced.
	Folded bool `json:"folded,omitempty"`
}

// ListResponse is the CmdList reply.
type ListResponse struct {
	Actions []ListEntry `json:"actions"`
}

// ActionRequest carries an action for CmdAdd, and with Index for CmdInsert
// and CmdReplace.
type ActionRequest struct {
	Index  int             `json:"index,omitempty"`
	Action action.Envelope `json:"action"`
}

// IndexRequest addresses a view entry for CmdRemove.
type IndexRequest struct {
	Index int `json:"index"`
}

// RecordingResponse reports the recording state after a record command.
type RecordingResponse struct {
	Recording bool   `json:"recording"`
	Session   string `json:"session,omitempty"`
}

// OptionsPayload is exchanged by CmdGetOptions and CmdSetOptions.
type OptionsPayload = options.Options

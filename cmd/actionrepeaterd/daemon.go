package main

import (
	"context"
	"log/slog"

	"actionrepeater/internal/control"
	"actionrepeater/internal/manager"
)

// ============================================================================
// Command loop - the application context
// ============================================================================
//
// Every IPC command and every state snapshot for a new WebSocket client is
// executed here, one at a time, so editing, recording and playback requests
// never race each other on the manager. Hook delivery and playback run on
// their own goroutines and only reach the daemon through manager events.
//
// ============================================================================

// request is anything the command loop executes.
type request interface {
	requestMarker()
}

// commandRequest carries one IPC command and receives exactly one response.
type commandRequest struct {
	Req   control.Request
	Reply chan control.Response
}

// snapshotRequest asks for the current state on behalf of a new WS client.
type snapshotRequest struct {
	Reply chan stateSnapshot
}

func (commandRequest) requestMarker()  {}
func (snapshotRequest) requestMarker() {}

// stateSnapshot is the state_init payload.
type stateSnapshot struct {
	Recording     bool              `json:"recording"`
	Playing       bool              `json:"playing"`
	Session       string            `json:"session,omitempty"`
	Actions       int               `json:"actions"`
	TotalActions  int               `json:"total_actions"`
	CursorPath    *wsCursorPathData `json:"cursor_path,omitempty"`
	RecordingMode string            `json:"cursor_movement_mode"`
}

// runCommandLoop serves requests until ctx is canceled or requests is
// closed.
func runCommandLoop(ctx context.Context, d *dispatcher, requests <-chan request, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("command loop stopping (context canceled)")
			return

		case r, ok := <-requests:
			if !ok {
				logger.Info("command loop stopping (requests channel closed)")
				return
			}
			switch r := r.(type) {
			case commandRequest:
				resp := d.handle(r.Req)
				if resp.Status != control.StatusOK {
					logger.Debug("command failed", "type", r.Req.Type, "error", resp.Error)
				}
				r.Reply <- resp
			case snapshotRequest:
				r.Reply <- snapshot(d.mgr)
			}
		}
	}
}

func snapshot(m *manager.Manager) stateSnapshot {
	s := stateSnapshot{
		Recording:     m.IsRecording(),
		Playing:       m.IsPlaying(),
		Actions:       len(m.View()),
		TotalActions:  len(m.Actions()),
		RecordingMode: m.Options().CursorMovementMode.String(),
	}
	if m.IsRecording() {
		s.Session = m.RecordingSession().String()
	}
	if p := m.CursorPath(); p != nil {
		s.CursorPath = summarizePath(p)
	}
	return s
}

package main

import (
	"log/slog"
	"time"

	"actionrepeater/internal/action"
	"actionrepeater/internal/manager"
)

// ============================================================================
// State broadcasts
// ============================================================================
//
// Manager events and cursor-path render calls arrive on the hook delivery and
// playback goroutines. They are converted to stateBroadcast values here and
// queued for the hub without ever blocking the producer.
//
// ============================================================================

// stateBroadcast is a state change destined for WS clients.
type stateBroadcast interface {
	broadcastMarker()
}

type broadcastRecordingChanged struct {
	Recording bool
	Session   string
	At        time.Time
}

type broadcastPlayingChanged struct {
	Playing bool
	At      time.Time
}

type broadcastActionsChanged struct {
	Op    string
	Index int
	At    time.Time
}

type broadcastCursorPathChanged struct {
	Path *wsCursorPathData
	At   time.Time
}

type broadcastPathOpen struct{ At time.Time }

type broadcastPathPoints struct {
	Points []action.Point
	At     time.Time
}

type broadcastPathClear struct{ At time.Time }

type broadcastPathClose struct{ At time.Time }

func (broadcastRecordingChanged) broadcastMarker()  {}
func (broadcastPlayingChanged) broadcastMarker()    {}
func (broadcastActionsChanged) broadcastMarker()    {}
func (broadcastCursorPathChanged) broadcastMarker() {}
func (broadcastPathOpen) broadcastMarker()          {}
func (broadcastPathPoints) broadcastMarker()        {}
func (broadcastPathClear) broadcastMarker()         {}
func (broadcastPathClose) broadcastMarker()         {}

// ============================================================================
// WS payloads
// ============================================================================

type wsRecordingChangedData struct {
	Recording bool   `json:"recording"`
	Session   string `json:"session,omitempty"`
}

type wsPlayingChangedData struct {
	Playing bool `json:"playing"`
}

type wsActionsChangedData struct {
	Op    string `json:"op"`
	Index int    `json:"index"`
}

// wsCursorPathData summarizes a recorded path; the points themselves travel
// in path_points frames while recording and through export.
type wsCursorPathData struct {
	Mode       string       `json:"mode"`
	Start      action.Point `json:"start"`
	Movements  int          `json:"movements"`
	DurationMs int          `json:"duration_ms"`
}

type wsPathPointsData struct {
	Points []action.Point `json:"points"`
}

func summarizePath(p *action.CursorPath) *wsCursorPathData {
	if p == nil {
		return nil
	}
	return &wsCursorPathData{
		Mode:       p.Mode.String(),
		Start:      p.Start,
		Movements:  len(p.Movements),
		DurationMs: p.DurationMs(),
	}
}

// ============================================================================
// Producers
// ============================================================================

// broadcastQueue is the non-blocking producer side of the hub input.
type broadcastQueue struct {
	ch     chan stateBroadcast
	logger *slog.Logger
}

func newBroadcastQueue(size int, logger *slog.Logger) *broadcastQueue {
	if size <= 0 {
		size = broadcastQueueSize
	}
	return &broadcastQueue{ch: make(chan stateBroadcast, size), logger: logger}
}

func (q *broadcastQueue) C() <-chan stateBroadcast { return q.ch }

func (q *broadcastQueue) publish(b stateBroadcast) {
	select {
	case q.ch <- b:
	default:
		q.logger.Warn("state broadcast queue full, dropping", "broadcast", b)
	}
}

// forwardManagerEvents publishes every manager event on q until the returned
// cancel func is called.
func forwardManagerEvents(m *manager.Manager, q *broadcastQueue) (cancel func()) {
	return m.Subscribe(func(ev manager.Event) {
		now := time.Now().UTC()
		switch ev.Kind {
		case manager.RecordingChanged:
			b := broadcastRecordingChanged{Recording: ev.Recording, At: now}
			if ev.Recording {
				b.Session = ev.Session.String()
			}
			q.publish(b)
		case manager.PlayingChanged:
			q.publish(broadcastPlayingChanged{Playing: ev.Playing, At: now})
		case manager.ActionsChanged:
			q.publish(broadcastActionsChanged{Op: ev.Change.Op.String(), Index: ev.Change.Index, At: now})
		case manager.CursorPathChanged:
			q.publish(broadcastCursorPathChanged{Path: summarizePath(ev.CursorPath), At: now})
		}
	})
}

// wsPathSink renders the live cursor path as path_* frames.
type wsPathSink struct {
	q *broadcastQueue
}

func (s wsPathSink) Open()  { s.q.publish(broadcastPathOpen{At: time.Now().UTC()}) }
func (s wsPathSink) Clear() { s.q.publish(broadcastPathClear{At: time.Now().UTC()}) }
func (s wsPathSink) Close() { s.q.publish(broadcastPathClose{At: time.Now().UTC()}) }

func (s wsPathSink) AddPoints(points []action.Point) {
	if len(points) == 0 {
		return
	}
	s.q.publish(broadcastPathPoints{Points: points, At: time.Now().UTC()})
}

// convertBroadcast maps a broadcast onto its WS event.
func convertBroadcast(b stateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case broadcastRecordingChanged:
		return wsOutboundEvent{
			Type: "recording_changed",
			Data: wsRecordingChangedData{Recording: ev.Recording, Session: ev.Session},
			At:   ev.At,
		}, true

	case broadcastPlayingChanged:
		return wsOutboundEvent{
			Type: "playing_changed",
			Data: wsPlayingChangedData{Playing: ev.Playing},
			At:   ev.At,
		}, true

	case broadcastActionsChanged:
		return wsOutboundEvent{
			Type: "actions_changed",
			Data: wsActionsChangedData{Op: ev.Op, Index: ev.Index},
			At:   ev.At,
		}, true

	case broadcastCursorPathChanged:
		return wsOutboundEvent{Type: "cursor_path_changed", Data: ev.Path, At: ev.At}, true

	case broadcastPathOpen:
		return wsOutboundEvent{Type: "path_open", At: ev.At}, true

	case broadcastPathPoints:
		return wsOutboundEvent{
			Type: wsPathPointsType,
			Data: wsPathPointsData{Points: ev.Points},
			At:   ev.At,
		}, true

	case broadcastPathClear:
		return wsOutboundEvent{Type: "path_clear", At: ev.At}, true

	case broadcastPathClose:
		return wsOutboundEvent{Type: "path_close", At: ev.At}, true

	default:
		return wsOutboundEvent{}, false
	}
}

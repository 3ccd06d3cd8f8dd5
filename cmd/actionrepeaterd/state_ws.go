package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"actionrepeater/internal/action"
)

// ============================================================================
// State WebSocket
// ============================================================================
//
// Frames are JSON text messages {type, ts, data}. A watcher gets
// "state_init" (taken through the command loop) after it joins, then every
// state change. Live path points are merged into one path_points frame per
// coalesce window. A watcher that cannot keep up is dropped.
//
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultWatcherBuf = 64
)

// wsPathCoalesceWindow bounds how long live path points are merged into a
// single path_points frame.
const wsPathCoalesceWindow = 40 * time.Millisecond

const wsPathPointsType = "path_points"

// wsOutboundEvent is a typed event ready to be enveloped.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means now
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEvent(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

// Hub turns state broadcasts into frames and fans them out to watchers. All
// of it happens on the Run goroutine; watchers join and leave through
// channels.
type Hub struct {
	logger *slog.Logger
	src    <-chan stateBroadcast

	join   chan *Watcher
	leave  chan *Watcher
	direct chan addressedFrame
	done   chan struct{}

	// watchers is owned by Run.
	watchers map[*Watcher]struct{}
	count    atomic.Int32

	watcherBuf int
	window     time.Duration
}

type HubConfig struct {
	// WatcherBuf is the per-watcher frame queue size; zero picks a default.
	WatcherBuf int
	// CoalesceWindow overrides wsPathCoalesceWindow when positive.
	CoalesceWindow time.Duration
}

// NewHub builds a hub reading src. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, src <-chan stateBroadcast, cfg HubConfig) *Hub {
	h := &Hub{
		logger:     logger,
		src:        src,
		join:       make(chan *Watcher),
		leave:      make(chan *Watcher),
		direct:     make(chan addressedFrame),
		done:       make(chan struct{}),
		watchers:   make(map[*Watcher]struct{}),
		watcherBuf: cfg.WatcherBuf,
		window:     cfg.CoalesceWindow,
	}
	if h.watcherBuf <= 0 {
		h.watcherBuf = defaultWatcherBuf
	}
	if h.window <= 0 {
		h.window = wsPathCoalesceWindow
	}
	return h
}

// ClientCount reports the number of connected watchers.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// add hands w to Run. It reports false once the hub has stopped.
func (h *Hub) add(w *Watcher) bool {
	select {
	case h.join <- w:
		return true
	case <-h.done:
		return false
	}
}

type addressedFrame struct {
	w   *Watcher
	msg []byte
}

// sendTo queues msg for w alone, provided w is still connected.
func (h *Hub) sendTo(w *Watcher, msg []byte) {
	select {
	case h.direct <- addressedFrame{w: w, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) remove(w *Watcher) {
	select {
	case h.leave <- w:
	case <-h.done:
	}
}

// Run serves the hub until ctx is canceled, then disconnects every watcher.
// A closed source only stops the broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("ws hub starting")

	src := h.src
	var batch pathBatch
	window := time.NewTimer(h.window)
	window.Stop()

	flush := func() {
		window.Stop()
		if ev, ok := batch.take(); ok {
			h.publish(ev)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			for w := range h.watchers {
				h.drop(w, "shutdown")
			}
			h.logger.Info("ws hub stopped")
			return

		case w := <-h.join:
			h.watchers[w] = struct{}{}
			n := h.count.Add(1)
			h.logger.Info("ws watcher joined", "remote_addr", w.addr, "watchers", n)

		case w := <-h.leave:
			h.drop(w, "disconnected")

		case f := <-h.direct:
			if _, ok := h.watchers[f.w]; ok && !f.w.offer(f.msg) {
				h.drop(f.w, "slow_watcher")
			}

		case <-window.C:
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				src = nil
				h.logger.Info("ws broadcasts ended")
				continue
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if pts, isPoints := ev.Data.(wsPathPointsData); isPoints {
				if batch.add(pts.Points, ev.At) {
					window.Reset(h.window)
				}
				continue
			}
			flush()
			h.publish(ev)
		}
	}
}

// publish marshals ev and queues it on every watcher, dropping the ones
// whose queue is full.
func (h *Hub) publish(ev wsOutboundEvent) {
	msg, err := marshalEvent(ev)
	if err != nil {
		h.logger.Warn("ws frame marshal failed", "type", ev.Type, "error", err)
		return
	}
	for w := range h.watchers {
		if !w.offer(msg) {
			h.drop(w, "slow_watcher")
		}
	}
}

// drop forgets w and closes its queue, which ends its writer. Only Run
// touches the queues of joined watchers, so it is closed exactly once.
func (h *Hub) drop(w *Watcher, reason string) {
	if _, ok := h.watchers[w]; !ok {
		return
	}
	delete(h.watchers, w)
	n := h.count.Add(-1)
	close(w.frames)
	if w.conn != nil {
		_ = w.conn.Close()
	}
	h.logger.Info("ws watcher left", "remote_addr", w.addr, "reason", reason, "watchers", n)
}

// pathBatch accumulates live path points between flushes.
type pathBatch struct {
	points []action.Point
	at     time.Time
}

// add appends pts and reports whether the batch was empty before.
func (b *pathBatch) add(pts []action.Point, at time.Time) bool {
	first := b.points == nil
	if first {
		b.at = at
		b.points = make([]action.Point, 0, len(pts))
	}
	b.points = append(b.points, pts...)
	return first
}

func (b *pathBatch) take() (wsOutboundEvent, bool) {
	if b.points == nil {
		return wsOutboundEvent{}, false
	}
	ev := wsOutboundEvent{Type: wsPathPointsType, Data: wsPathPointsData{Points: b.points}, At: b.at}
	*b = pathBatch{}
	return ev, true
}

// ============================================================================
// Watcher
// ============================================================================

// Watcher is one state WebSocket connection.
type Watcher struct {
	conn   *websocket.Conn
	frames chan []byte
	addr   string
}

func newWatcher(conn *websocket.Conn, addr string, buf int) *Watcher {
	return &Watcher{conn: conn, frames: make(chan []byte, buf), addr: addr}
}

func (w *Watcher) offer(msg []byte) bool {
	select {
	case w.frames <- msg:
		return true
	default:
		return false
	}
}

// writeFrames sends queued frames and pings until the queue is closed or a
// write fails.
func (w *Watcher) writeFrames(logger *slog.Logger) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		kind, payload := websocket.PingMessage, []byte(nil)
		select {
		case msg, ok := <-w.frames:
			if !ok {
				kind = websocket.CloseMessage
			} else {
				kind, payload = websocket.TextMessage, msg
			}
		case <-ping.C:
		}

		_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := w.conn.WriteMessage(kind, payload); err != nil {
			logConnEnd(logger, w.addr, "write", err)
			return
		}
		if kind == websocket.CloseMessage {
			return
		}
	}
}

// readUntilError discards inbound frames, keeping the pong deadline fresh,
// and returns the error that ends the connection.
func (w *Watcher) readUntilError() error {
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func logConnEnd(logger *slog.Logger, addr, side string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		logger.Info("ws connection closed", "remote_addr", addr, "side", side, "code", ce.Code, "reason", ce.Text)
		return
	}
	logger.Info("ws connection ended", "remote_addr", addr, "side", side, "error", err)
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// requests reaches the command loop for the state_init snapshot.
	requests chan<- request
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer builds the hub over src and the upgrade handler. Register it on
// a mux, then run Hub().Run.
func NewServer(logger *slog.Logger, requests chan<- request, src <-chan stateBroadcast, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, src, cfg.Hub),
		requests: requests,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register installs the WS handler on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// Local monitors only; the listener binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS owns one connection for its whole life: the writer runs on
// its own goroutine while this one reads until the socket fails.
func (s *Server) handleStateWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	w := newWatcher(conn, r.RemoteAddr, s.hub.watcherBuf)
	if !s.hub.add(w) {
		_ = conn.Close()
		return
	}
	go w.writeFrames(s.logger)

	// The snapshot is taken after joining, so no change between the two is
	// lost; a change frame may arrive ahead of state_init.
	if snap, ok := s.snapshot(r.Context()); ok {
		if msg, err := marshalEvent(wsOutboundEvent{Type: "state_init", Data: snap}); err != nil {
			s.logger.Warn("ws state_init marshal failed", "error", err)
		} else {
			s.hub.sendTo(w, msg)
		}
	}

	logConnEnd(s.logger, w.addr, "read", w.readUntilError())
	s.hub.remove(w)
}

func (s *Server) snapshot(ctx context.Context) (stateSnapshot, bool) {
	if s.requests == nil {
		return stateSnapshot{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	reply := make(chan stateSnapshot, 1)
	select {
	case s.requests <- snapshotRequest{Reply: reply}:
	case <-ctx.Done():
		s.logger.Warn("ws snapshot request failed", "error", ctx.Err())
		return stateSnapshot{}, false
	}
	select {
	case snap := <-reply:
		return snap, true
	case <-ctx.Done():
		s.logger.Warn("ws snapshot request failed", "error", ctx.Err())
		return stateSnapshot{}, false
	}
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"actionrepeater/internal/action"
)

// Hub tests use watchers with a nil conn; the hub guards every conn access
// and the writer is never started.

func newTestHub(t *testing.T, src chan stateBroadcast, watcherBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), src, HubConfig{WatcherBuf: watcherBuf})
}

func startHub(t *testing.T, hub *Hub) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for hub to stop")
		}
	}
}

// joinWatcher adds a watcher; Run has taken it once add returns, so anything
// sent on the source afterwards reaches it.
func joinWatcher(t *testing.T, hub *Hub, name string, buf int) *Watcher {
	t.Helper()
	w := newWatcher(nil, name, buf)
	if !hub.add(w) {
		t.Fatalf("%s: hub refused watcher", name)
	}
	return w
}

func recvFrame(t *testing.T, ch <-chan []byte, who string) []byte {
	t.Helper()
	select {
	case got, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", who)
		}
		return got
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("%s: timeout waiting for frame", who)
	}
	return nil
}

func waitClosed(t *testing.T, ch <-chan []byte, who string) {
	t.Helper()
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, who+": expected frame queue to be closed")
}

type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func decodeFrame(t *testing.T, b []byte) frame {
	t.Helper()
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode frame %q: %v", b, err)
	}
	if f.Ts == nil {
		t.Fatalf("frame %q has no ts", b)
	}
	return f
}

func TestHub_FanOut(t *testing.T) {
	src := make(chan stateBroadcast, 4)
	hub := newTestHub(t, src, 4)
	stop := startHub(t, hub)
	defer stop()

	w1 := joinWatcher(t, hub, "w1", 4)
	w2 := joinWatcher(t, hub, "w2", 4)
	src <- broadcastPlayingChanged{Playing: true}

	for _, w := range []*Watcher{w1, w2} {
		if f := decodeFrame(t, recvFrame(t, w.frames, w.addr)); f.Type != "playing_changed" {
			t.Fatalf("%s got %q, want playing_changed", w.addr, f.Type)
		}
	}
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 2 }, "expected two watchers")
}

func TestHub_SlowWatcherDropped(t *testing.T) {
	src := make(chan stateBroadcast, 4)
	hub := newTestHub(t, src, 1)
	stop := startHub(t, hub)
	defer stop()

	slow := joinWatcher(t, hub, "slow", 1)
	fast := joinWatcher(t, hub, "fast", 8)
	slow.frames <- []byte(`"stuck"`)

	src <- broadcastPathClear{}

	if f := decodeFrame(t, recvFrame(t, fast.frames, "fast")); f.Type != "path_clear" {
		t.Fatalf("fast got %q, want path_clear", f.Type)
	}
	<-slow.frames
	waitClosed(t, slow.frames, "slow")
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 1 }, "slow watcher still counted")
}

func TestHub_RemoveAndDirectFrames(t *testing.T) {
	hub := newTestHub(t, nil, 4)
	stop := startHub(t, hub)
	defer stop()

	w := joinWatcher(t, hub, "w", 4)
	hub.sendTo(w, []byte(`{"type":"state_init"}`))
	if got := recvFrame(t, w.frames, "w"); string(got) != `{"type":"state_init"}` {
		t.Fatalf("direct frame = %q", got)
	}

	hub.remove(w)
	waitClosed(t, w.frames, "w")
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 0 }, "watcher still counted")

	// Late frames and a second removal for a departed watcher are ignored.
	hub.sendTo(w, []byte(`{}`))
	hub.remove(w)
}

func TestHub_ShutdownClosesWatchers(t *testing.T) {
	hub := newTestHub(t, make(chan stateBroadcast), 4)
	stop := startHub(t, hub)

	w := joinWatcher(t, hub, "w", 4)
	stop()

	if _, ok := <-w.frames; ok {
		t.Fatalf("expected frame queue closed after shutdown")
	}
	if hub.add(newWatcher(nil, "late", 1)) {
		t.Fatalf("stopped hub accepted a watcher")
	}
	hub.remove(w)
}

func TestHub_MergesPathPointsBeforeOtherEvents(t *testing.T) {
	src := make(chan stateBroadcast, 8)
	hub := newTestHub(t, src, 8)
	stop := startHub(t, hub)
	defer stop()
	w := joinWatcher(t, hub, "w", 8)

	src <- broadcastPathOpen{}
	src <- broadcastPathPoints{Points: []action.Point{{X: 1, Y: 1}, {X: 2, Y: 1}}}
	src <- broadcastPathPoints{Points: []action.Point{{X: 3, Y: 2}}}
	src <- broadcastRecordingChanged{Recording: false}

	want := []string{"path_open", "path_points", "recording_changed"}
	var frames []frame
	for i := range want {
		frames = append(frames, decodeFrame(t, recvFrame(t, w.frames, want[i])))
	}
	for i, f := range frames {
		if f.Type != want[i] {
			t.Fatalf("frame %d type = %q, want %q", i, f.Type, want[i])
		}
	}

	var pts wsPathPointsData
	if err := json.Unmarshal(frames[1].Data, &pts); err != nil {
		t.Fatalf("decode points: %v", err)
	}
	if len(pts.Points) != 3 || pts.Points[2] != (action.Point{X: 3, Y: 2}) {
		t.Fatalf("points = %+v, want three merged points", pts.Points)
	}
}

func TestHub_FlushesPathPointsAfterWindow(t *testing.T) {
	src := make(chan stateBroadcast, 1)
	hub := newTestHub(t, src, 4)
	stop := startHub(t, hub)
	defer stop()
	w := joinWatcher(t, hub, "w", 4)

	start := time.Now()
	src <- broadcastPathPoints{Points: []action.Point{{X: 7, Y: 9}}}

	f := decodeFrame(t, recvFrame(t, w.frames, "points"))
	if f.Type != wsPathPointsType {
		t.Fatalf("type = %q, want %q", f.Type, wsPathPointsType)
	}
	if elapsed := time.Since(start); elapsed < wsPathCoalesceWindow/2 {
		t.Fatalf("points flushed after %v, expected to wait for the coalesce window", elapsed)
	}
}

func TestHub_SourceClosedFlushesPendingAndKeepsWatchers(t *testing.T) {
	src := make(chan stateBroadcast, 2)
	hub := NewHub(slog.Default(), src, HubConfig{WatcherBuf: 4, CoalesceWindow: time.Minute})
	stop := startHub(t, hub)
	defer stop()
	w := joinWatcher(t, hub, "w", 4)

	src <- broadcastPathPoints{Points: []action.Point{{X: 1, Y: 2}}}
	close(src)

	if f := decodeFrame(t, recvFrame(t, w.frames, "w")); f.Type != wsPathPointsType {
		t.Fatalf("type = %q, want %q", f.Type, wsPathPointsType)
	}

	hub.sendTo(w, []byte(`{}`))
	recvFrame(t, w.frames, "w")
	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d after source closed, want 1", n)
	}
}

func TestConvertBroadcast(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   stateBroadcast
		want string
	}{
		{broadcastRecordingChanged{Recording: true, Session: "s", At: at}, "recording_changed"},
		{broadcastPlayingChanged{Playing: true, At: at}, "playing_changed"},
		{broadcastActionsChanged{Op: "added", Index: 3, At: at}, "actions_changed"},
		{broadcastCursorPathChanged{At: at}, "cursor_path_changed"},
		{broadcastPathClose{At: at}, "path_close"},
	}
	for _, tc := range cases {
		ev, ok := convertBroadcast(tc.in)
		if !ok {
			t.Fatalf("convertBroadcast(%T) not ok", tc.in)
		}
		if ev.Type != tc.want || !ev.At.Equal(at) {
			t.Fatalf("convertBroadcast(%T) = %q at %v, want %q at %v", tc.in, ev.Type, ev.At, tc.want, at)
		}
	}
}

func TestBroadcastQueue_DropsWhenFull(t *testing.T) {
	q := newBroadcastQueue(1, slog.Default())
	q.publish(broadcastPathOpen{})
	q.publish(broadcastPathClose{})

	if got := <-q.C(); got != (broadcastPathOpen{}) {
		t.Fatalf("first broadcast = %#v, want path open", got)
	}
	select {
	case b := <-q.C():
		t.Fatalf("unexpected queued broadcast %#v", b)
	default:
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

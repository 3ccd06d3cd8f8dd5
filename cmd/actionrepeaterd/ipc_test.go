package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"actionrepeater/internal/action"
	"actionrepeater/internal/control"
)

// shortSocketPath keeps the path under the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ar")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "ipc.sock")
}

// startIPC runs the IPC server plus a command loop around a test daemon.
func startIPC(t *testing.T, d *testDaemon) string {
	t.Helper()
	sock := shortSocketPath(t)
	ctx, cancel := context.WithCancel(context.Background())

	requests := make(chan request, commandQueueSize)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runCommandLoop(ctx, d.disp, requests, slog.Default())
	}()

	srvErr := make(chan error, 1)
	go func() { srvErr <- runIPCServer(ctx, sock, requests, slog.Default()) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-srvErr:
			if err != nil {
				t.Errorf("runIPCServer: %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("IPC server did not stop")
		}
		<-loopDone
	})

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "IPC socket not created")
	return sock
}

func TestIPC_ClientRoundTrip(t *testing.T) {
	d := newTestDaemon(t)
	c := control.NewClient(startIPC(t, d))
	ctx := context.Background()

	err := c.Do(ctx, control.CmdAdd, control.ActionRequest{Action: wrap(t, &action.WaitAction{DurationMs: 30})}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var st control.Status
	if err := c.Do(ctx, control.CmdStatus, nil, &st); err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Actions != 1 {
		t.Fatalf("status = %+v, want one action", st)
	}

	err = c.Do(ctx, control.CmdRemove, control.IndexRequest{Index: 5}, nil)
	if !errors.Is(err, control.ErrDaemon) {
		t.Fatalf("remove out of range: err = %v, want ErrDaemon", err)
	}
}

func TestIPC_BadLinesKeepConnectionOpen(t *testing.T) {
	d := newTestDaemon(t)
	sock := startIPC(t, d)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	read := func() control.Response {
		t.Helper()
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		var resp control.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("decode reply %q: %v", line, err)
		}
		return resp
	}

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := read(); resp.Status != control.StatusError || !strings.HasPrefix(resp.Error, "parse request") {
		t.Fatalf("bad json reply = %+v", resp)
	}

	if _, err := conn.Write([]byte(`{"data":{}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := read(); resp.Status != control.StatusError || !strings.Contains(resp.Error, "missing type") {
		t.Fatalf("missing type reply = %+v", resp)
	}

	if _, err := conn.Write([]byte(`{"type":"status"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := read(); resp.Status != control.StatusOK {
		t.Fatalf("status reply = %+v", resp)
	}
}

func TestDispatchIPC_QueueFull(t *testing.T) {
	requests := make(chan request) // nobody reads
	resp := dispatchIPC(context.Background(), control.Request{Type: control.CmdStatus}, requests)
	if resp.Status != control.StatusError || resp.Error != "command queue full" {
		t.Fatalf("resp = %+v, want queue full", resp)
	}
}

func TestDispatchIPC_ShutdownWhileWaiting(t *testing.T) {
	requests := make(chan request, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := dispatchIPC(ctx, control.Request{Type: control.CmdStatus}, requests)
	if resp.Status != control.StatusError {
		t.Fatalf("resp = %+v, want error", resp)
	}
	if len(requests) != 1 {
		t.Fatalf("request was not queued")
	}
}

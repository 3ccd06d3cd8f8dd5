package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"actionrepeater/internal/control"
)

// ============================================================================
// IPC server - Unix domain socket
// ============================================================================
//
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "play", "data": {...}}
//   - Server replies: {"status": "ok", "data": ...} or
//     {"status": "error", "error": "msg"}
//
// Every command is executed by the command loop; connections only parse,
// queue and wait for the reply.
//
// ============================================================================

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, requests chan<- request, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, requests, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, requests chan<- request, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIPCLine)
	encoder := json.NewEncoder(conn)

	reply := func(resp control.Response) bool {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return false
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		logger.Debug("IPC received", "bytes", len(line))

		var req control.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if !reply(control.Fail(fmt.Errorf("parse request: %w", err))) {
				return
			}
			continue
		}
		if req.Type == "" {
			if !reply(control.Fail(errors.New("parse request: missing type"))) {
				return
			}
			continue
		}

		// Data aliases the scanner buffer.
		req.Data = append(json.RawMessage(nil), req.Data...)

		resp := dispatchIPC(ctx, req, requests)
		if !reply(resp) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("IPC read error", "error", err)
	}
	logger.Debug("IPC connection closed")
}

// dispatchIPC queues req for the command loop and waits for its reply.
func dispatchIPC(ctx context.Context, req control.Request, requests chan<- request) control.Response {
	cr := commandRequest{Req: req, Reply: make(chan control.Response, 1)}

	select {
	case requests <- cr:
	default:
		return control.Fail(errors.New("command queue full"))
	}

	select {
	case resp := <-cr.Reply:
		return resp
	case <-ctx.Done():
		return control.Fail(errors.New("daemon shutting down"))
	}
}

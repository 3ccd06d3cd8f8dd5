package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// message is one state frame from actionrepeaterd.
type message struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3011/ws/state", "actionrepeaterd state WebSocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := &watcher{raw: *raw}
		for {
			mt, frame, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if mt == websocket.TextMessage {
				w.handle(frame)
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// watcher prints frames, counting live path points so a recording does not
// flood the terminal.
type watcher struct {
	raw        bool
	pathPoints int
}

func (w *watcher) handle(frame []byte) {
	if w.raw {
		fmt.Println(string(frame))
		return
	}

	var m message
	if err := json.Unmarshal(frame, &m); err != nil {
		fmt.Printf("[TEXT] %s\n", frame)
		return
	}

	ts := ""
	if m.Ts != nil {
		ts = m.Ts.Local().Format("15:04:05.000") + " "
	}

	switch m.Type {
	case "path_points":
		var d struct {
			Points []struct{ X, Y int } `json:"points"`
		}
		if json.Unmarshal(m.Data, &d) == nil {
			w.pathPoints += len(d.Points)
		}
		return
	case "path_open":
		w.pathPoints = 0
	case "path_close":
		fmt.Printf("%s[PATH] closed after %d points\n", ts, w.pathPoints)
		return
	}

	if len(m.Data) == 0 {
		fmt.Printf("%s[%s]\n", ts, m.Type)
		return
	}
	fmt.Printf("%s[%s] %s\n", ts, m.Type, m.Data)
}

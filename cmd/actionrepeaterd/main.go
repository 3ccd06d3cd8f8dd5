package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"actionrepeater/internal/hook"
	"actionrepeater/internal/manager"
	"actionrepeater/internal/player"
	"actionrepeater/internal/synth"
)

func printVersion() {
	fmt.Printf("actionrepeaterd v%s\n", version)
	fmt.Println("Keyboard and mouse capture-and-replay daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  actionrepeaterd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Records keyboard and mouse input from Linux input devices into an")
	fmt.Println("  editable action list and replays it through uinput. Controlled over a")
	fmt.Println("  Unix socket (see arctl); state changes stream over a WebSocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (flags below override it)")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Input device to capture; repeat for several (default: auto-discover)")
	fmt.Println()
	fmt.Println("  -dry-run")
	fmt.Println("        Log synthesized input instead of creating uinput devices")
	fmt.Println()
	fmt.Println("  -actions string")
	fmt.Println("        Action file imported at startup")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -ws-listen string")
	fmt.Printf("        State WebSocket listen address; empty disables (default %q)\n", defaultWSListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  actionrepeaterd -config ~/.config/actionrepeater/config.yaml")
	fmt.Println("  actionrepeaterd -device /dev/input/event3 -device /dev/input/event5")
	fmt.Println("  actionrepeaterd -dry-run -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Needs read access to /dev/input (root or the 'input' group)")
	fmt.Println("  - Needs write access to /dev/uinput unless -dry-run is set")
	fmt.Println()
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var devices stringList
	var (
		configPath  = flag.String("config", "", "YAML config file")
		dryRun      = flag.Bool("dry-run", false, "Log synthesized input instead of using uinput")
		actionsFile = flag.String("actions", "", "Action file imported at startup")
		ipcSocket   = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		wsListen    = flag.String("ws-listen", defaultWSListen, "State WebSocket listen address (empty disables)")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_           = flag.Bool("version", false, "Print version and exit")
		_           = flag.Bool("help", false, "Print help message")
	)
	flag.Var(&devices, "device", "Input device to capture (repeatable)")
	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	overrides := FlagOverrides{Devices: devices}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dry-run":
			overrides.DryRun = dryRun
		case "actions":
			overrides.ActionFile = actionsFile
		case "ipc-socket":
			overrides.IPCSocket = ipcSocket
		case "ws-listen":
			overrides.WSListen = wsListen
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the daemon from a validated config and blocks until SIGINT or
// SIGTERM, or until a component fails.
func run(cfg Config, logger *slog.Logger) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	devices := cfg.Input.Devices
	if len(devices) == 0 {
		if devices, err = hook.DiscoverDevices(cfg.Input.DeviceDir); err != nil {
			return fmt.Errorf("discover input devices: %w", err)
		}
		logger.Info("discovered input devices", "devices", devices)
	}
	hooks := hook.NewEvdev(hook.EvdevConfig{
		Devices:      devices,
		ScreenWidth:  cfg.Input.ScreenWidth,
		ScreenHeight: cfg.Input.ScreenHeight,
	}, logger.With("component", "evdev"))

	var out interface {
		player.Synthesizer
		io.Closer
	}
	if cfg.Output.DryRun {
		out = synth.NewDryRun(logger.With("component", "synth"))
	} else {
		u, err := synth.NewUinput(synth.UinputConfig{
			Path:         cfg.Output.UinputPath,
			Name:         cfg.Output.DeviceName,
			ScreenWidth:  cfg.Input.ScreenWidth,
			ScreenHeight: cfg.Input.ScreenHeight,
		}, logger.With("component", "synth"))
		if err != nil {
			return fmt.Errorf("create uinput devices (tip: -dry-run, or grant access to %s): %w", cfg.Output.UinputPath, err)
		}
		out = u
	}
	defer out.Close()

	bq := newBroadcastQueue(cfg.StateWS.BroadcastBuf, logger)

	mgr, err := manager.New(manager.Config{
		Hooks:   hooks,
		Synth:   out,
		Sink:    wsPathSink{q: bq},
		Options: opts,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()
	defer forwardManagerEvents(mgr, bq)()

	if cfg.Playback.ActionsFile != "" {
		if err := importFile(mgr, ExpandPath(cfg.Playback.ActionsFile)); err != nil {
			return err
		}
		logger.Info("imported actions", "file", cfg.Playback.ActionsFile, "actions", len(mgr.Actions()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	requests := make(chan request, commandQueueSize)

	disp := newDispatcher(gctx, mgr, logger)
	var srv *Server
	var mux *http.ServeMux
	if cfg.StateWS.Listen != "" {
		srv = NewServer(logger, requests, bq.C(), ServerConfig{Hub: HubConfig{
			WatcherBuf: cfg.StateWS.SendBuf,
		}})
		mux = http.NewServeMux()
		srv.Register(mux, cfg.StateWS.Path)
		disp.hub = srv.Hub()
	}

	g.Go(func() error {
		runCommandLoop(gctx, disp, requests, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, requests, logger)
	})

	if srv != nil {
		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.StateWS.Listen, mux, logger)
		})
	} else {
		// Nobody listens; keep the queue from filling up.
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-bq.C():
				}
			}
		})
	}

	logger.Info("listening",
		"version", version,
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Listen,
		"devices", len(devices),
		"dry_run", cfg.Output.DryRun,
		"cursor_movement_mode", opts.CursorMovementMode.String())

	err = g.Wait()
	mgr.CancelPlayback()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func importFile(m *manager.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open action file: %w", err)
	}
	defer f.Close()
	if err := m.Import(f); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	return nil
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"actionrepeater/internal/action"
	"actionrepeater/internal/options"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts != options.Default() {
		t.Fatalf("Options() = %+v, want defaults %+v", opts, options.Default())
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `
input:
  devices: [/dev/input/event3]
  auto_discover: false
recording:
  cursor_movement_mode: relative
  max_click_interval_ms: 250
playback:
  repeat_count: -1
  speed: 1.5
state_ws:
  listen: ""
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.CursorMovementMode != action.CursorMovementRelative {
		t.Fatalf("mode = %v, want relative", opts.CursorMovementMode)
	}
	if opts.MaxClickInterval != 250 || opts.PlayRepeatCount != -1 || opts.PlaybackSpeed != 1.5 {
		t.Fatalf("options = %+v", opts)
	}
	// Untouched keys keep their defaults.
	if cfg.IPC.SocketPath != defaultSocketPath || cfg.Input.ScreenWidth != defaultScreenWidth {
		t.Fatalf("defaults lost: ipc=%q width=%d", cfg.IPC.SocketPath, cfg.Input.ScreenWidth)
	}
	if cfg.StateWS.Listen != "" {
		t.Fatalf("state_ws.listen = %q, want disabled", cfg.StateWS.Listen)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "input:\n  keyboard: /dev/input/event1\n",
		"trailing doc":     "logging:\n  level: info\n---\nlogging:\n  level: debug\n",
		"wrong value type": "playback:\n  speed: fast\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfigFile(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no devices", func(c *Config) { c.Input.AutoDiscover = false }, "input.devices"},
		{"empty device", func(c *Config) { c.Input.Devices = []string{""} }, "input.devices[0]"},
		{"screen", func(c *Config) { c.Input.ScreenHeight = 0 }, "screen_height"},
		{"mode", func(c *Config) { c.Recording.CursorMovementMode = "diagonal" }, "cursor_movement_mode"},
		{"speed", func(c *Config) { c.Playback.Speed = -1 }, "recording/playback"},
		{"socket", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"ws path", func(c *Config) { c.StateWS.Path = "ws" }, "state_ws.path"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"uinput", func(c *Config) { c.Output.UinputPath = "" }, "output.uinput_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Output.DryRun = true
	cfg.Output.UinputPath = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dry run without uinput path: %v", err)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	dry := true
	ws := ""
	level := "debug"
	FlagOverrides{
		Devices:  []string{"/dev/input/event9"},
		DryRun:   &dry,
		WSListen: &ws,
		LogLevel: &level,
	}.Apply(&cfg)

	if len(cfg.Input.Devices) != 1 || cfg.Input.Devices[0] != "/dev/input/event9" {
		t.Fatalf("devices = %v", cfg.Input.Devices)
	}
	if !cfg.Output.DryRun || cfg.StateWS.Listen != "" || cfg.Logging.Level != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.IPC.SocketPath != defaultSocketPath {
		t.Fatalf("unset override changed socket path: %q", cfg.IPC.SocketPath)
	}

	FlagOverrides{}.Apply(nil)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/actions.json"); got != filepath.Join(home, "actions.json") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("ExpandPath changed absolute path: %q", got)
	}
	if got := ExpandPath("~user/x"); got != "~user/x" {
		t.Fatalf("ExpandPath(~user/x) = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, in := range []string{"", "info", "DEBUG", " warn ", "warning", "error"} {
		if _, err := parseLogLevel(in); err != nil {
			t.Fatalf("parseLogLevel(%q): %v", in, err)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for trace")
	}
}

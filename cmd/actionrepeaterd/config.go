package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"actionrepeater/internal/action"
	"actionrepeater/internal/options"
	"actionrepeater/internal/synth"
)

// Config is the top-level YAML configuration for actionrepeaterd.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. The file is the primary surface; flags override a few
// fields for ad-hoc runs.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Output    OutputConfig    `yaml:"output"`
	Recording RecordingConfig `yaml:"recording"`
	Playback  PlaybackConfig  `yaml:"playback"`
	IPC       IPCConfig       `yaml:"ipc"`
	StateWS   StateWSConfig   `yaml:"state_ws"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	// Devices lists evdev nodes to capture. When empty and AutoDiscover is
	// set, keyboards and mice are found under DeviceDir.
	Devices      []string `yaml:"devices,omitempty"`
	AutoDiscover bool     `yaml:"auto_discover"`
	DeviceDir    string   `yaml:"device_dir"`
	ScreenWidth  int      `yaml:"screen_width"`
	ScreenHeight int      `yaml:"screen_height"`
}

type OutputConfig struct {
	// DryRun logs synthesized input instead of creating uinput devices.
	DryRun     bool   `yaml:"dry_run"`
	UinputPath string `yaml:"uinput_path"`
	DeviceName string `yaml:"device_name"`
}

type RecordingConfig struct {
	CursorMovementMode   string `yaml:"cursor_movement_mode"` // none, absolute or relative
	UseCursorPosOnClicks bool   `yaml:"use_cursor_pos_on_clicks"`
	MaxClickIntervalMS   int    `yaml:"max_click_interval_ms"`
	MinWaitMS            int    `yaml:"min_wait_ms"`
	WheelBurstGapMS      int    `yaml:"wheel_burst_gap_ms"`
	RepeatMarginMS       int    `yaml:"repeat_margin_ms"`
	RepeatMaxDeltaMS     int    `yaml:"repeat_max_delta_ms"`
	PathBatchSize        int    `yaml:"path_batch_size"`
}

type PlaybackConfig struct {
	SendKeyAutoRepeat bool    `yaml:"send_key_auto_repeat"`
	RepeatCount       int     `yaml:"repeat_count"` // < 0 loops until cancelled
	Speed             float64 `yaml:"speed"`
	// ActionsFile is imported at startup when set.
	ActionsFile string `yaml:"actions_file,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	// Listen is the HTTP listen address; empty disables the state socket.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	// SendBuf is the frame queue of each watcher; BroadcastBuf the queue of
	// state changes waiting for the hub. Zero picks a default.
	SendBuf      int `yaml:"send_buf"`
	BroadcastBuf int `yaml:"broadcast_buf"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	opts := options.Default()
	return Config{
		Input: InputConfig{
			AutoDiscover: true,
			DeviceDir:    defaultDeviceDir,
			ScreenWidth:  defaultScreenWidth,
			ScreenHeight: defaultScreenHeight,
		},
		Output: OutputConfig{
			UinputPath: synth.DefaultUinputPath,
			DeviceName: defaultDeviceName,
		},
		Recording: RecordingConfig{
			CursorMovementMode:   opts.CursorMovementMode.String(),
			UseCursorPosOnClicks: opts.UseCursorPosOnClicks,
			MaxClickIntervalMS:   opts.MaxClickInterval,
			MinWaitMS:            opts.MinWaitMs,
			WheelBurstGapMS:      opts.WheelBurstGapMs,
			RepeatMarginMS:       opts.RepeatMarginMs,
			RepeatMaxDeltaMS:     opts.RepeatMaxDeltaMs,
			PathBatchSize:        opts.PathBatchSize,
		},
		Playback: PlaybackConfig{
			SendKeyAutoRepeat: opts.SendKeyAutoRepeat,
			RepeatCount:       opts.PlayRepeatCount,
			Speed:             opts.PlaybackSpeed,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		StateWS: StateWSConfig{
			Listen: defaultWSListen,
			Path:   defaultWSPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of the defaults. Unknown
// fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace or comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds the flags that were explicitly set. A nil pointer
// leaves the config value alone; a non-nil pointer applies even a zero value.
type FlagOverrides struct {
	Devices    []string
	DryRun     *bool
	IPCSocket  *string
	WSListen   *string
	LogLevel   *string
	ActionFile *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if len(o.Devices) > 0 {
		cfg.Input.Devices = append([]string(nil), o.Devices...)
	}
	if o.DryRun != nil {
		cfg.Output.DryRun = *o.DryRun
	}
	if o.IPCSocket != nil {
		cfg.IPC.SocketPath = *o.IPCSocket
	}
	if o.WSListen != nil {
		cfg.StateWS.Listen = *o.WSListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.ActionFile != nil {
		cfg.Playback.ActionsFile = *o.ActionFile
	}
}

// Validate checks config invariants and returns a user-facing error. Call it
// after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if len(c.Input.Devices) == 0 && !c.Input.AutoDiscover {
		return errors.New("input.devices must not be empty when input.auto_discover is false")
	}
	if c.Input.AutoDiscover && c.Input.DeviceDir == "" {
		return errors.New("input.device_dir must not be empty when input.auto_discover is true")
	}
	if c.Input.ScreenWidth <= 0 || c.Input.ScreenHeight <= 0 {
		return errors.New("input.screen_width and input.screen_height must be > 0")
	}

	if !c.Output.DryRun && c.Output.UinputPath == "" {
		return errors.New("output.uinput_path must not be empty")
	}
	if c.Output.DeviceName == "" {
		return errors.New("output.device_name must not be empty")
	}

	opts, err := c.Options()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("recording/playback: %w", err)
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.StateWS.Listen != "" && (c.StateWS.Path == "" || c.StateWS.Path[0] != '/') {
		return errors.New("state_ws.path must start with '/'")
	}
	if c.StateWS.SendBuf < 0 || c.StateWS.BroadcastBuf < 0 {
		return errors.New("state_ws.send_buf and state_ws.broadcast_buf must be >= 0")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Options converts the recording and playback sections into the policy
// handed to the manager.
func (c *Config) Options() (options.Options, error) {
	var mode action.CursorMovementMode
	if err := mode.UnmarshalText([]byte(c.Recording.CursorMovementMode)); err != nil {
		return options.Options{}, fmt.Errorf("recording.cursor_movement_mode: %w", err)
	}
	return options.Options{
		CursorMovementMode:   mode,
		UseCursorPosOnClicks: c.Recording.UseCursorPosOnClicks,
		MaxClickInterval:     c.Recording.MaxClickIntervalMS,
		SendKeyAutoRepeat:    c.Playback.SendKeyAutoRepeat,
		PlayRepeatCount:      c.Playback.RepeatCount,
		PlaybackSpeed:        c.Playback.Speed,
		MinWaitMs:            c.Recording.MinWaitMS,
		WheelBurstGapMs:      c.Recording.WheelBurstGapMS,
		RepeatMarginMs:       c.Recording.RepeatMarginMS,
		RepeatMaxDeltaMs:     c.Recording.RepeatMaxDeltaMS,
		PathBatchSize:        c.Recording.PathBatchSize,
	}, nil
}

// ExpandPath expands a leading "~" using the user's home directory.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

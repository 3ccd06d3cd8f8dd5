// Package options holds the recording and playback policy shared by the
// recorder, the player and the manager.
package options

import (
	"errors"
	"fmt"

	"actionrepeater/internal/action"
)

// Defaults, in milliseconds unless noted.
const (
	DefaultMaxClickInterval = 120
	DefaultMinWaitMs        = 10
	DefaultWheelBurstGapMs  = 200
	DefaultRepeatMarginMs   = 150
	DefaultRepeatMaxDeltaMs = 1000
	DefaultPathBatchSize    = 32
)

// Options is the policy value passed to a recording or playback session at
// start. Changing it never affects a running session.
type Options struct {
	// CursorMovementMode selects whether cursor movement is recorded and how.
	CursorMovementMode action.CursorMovementMode `json:"cursor_movement_mode" yaml:"cursor_movement_mode"`
	// UseCursorPosOnClicks replays mouse buttons at their recorded position.
	UseCursorPosOnClicks bool `json:"use_cursor_pos_on_clicks" yaml:"use_cursor_pos_on_clicks"`
	// MaxClickInterval bounds both press-to-release for a click and
	// release-to-press for a multi-click.
	MaxClickInterval int `json:"max_click_interval_ms" yaml:"max_click_interval_ms"`
	// SendKeyAutoRepeat replays hidden autorepeat presses.
	SendKeyAutoRepeat bool `json:"send_key_auto_repeat" yaml:"send_key_auto_repeat"`
	// PlayRepeatCount is the number of playback iterations; negative loops
	// until cancelled and zero plays once.
	PlayRepeatCount int     `json:"play_repeat_count" yaml:"play_repeat_count"`
	PlaybackSpeed   float64 `json:"playback_speed" yaml:"playback_speed"`

	MinWaitMs        int `json:"min_wait_ms" yaml:"min_wait_ms"`
	WheelBurstGapMs  int `json:"wheel_burst_gap_ms" yaml:"wheel_burst_gap_ms"`
	RepeatMarginMs   int `json:"repeat_margin_ms" yaml:"repeat_margin_ms"`
	RepeatMaxDeltaMs int `json:"repeat_max_delta_ms" yaml:"repeat_max_delta_ms"`
	// PathBatchSize is how many cursor points are buffered before they are
	// handed to the render sink.
	PathBatchSize int `json:"path_batch_size" yaml:"path_batch_size"`
}

// Default returns the stock policy.
func Default() Options {
	return Options{
		CursorMovementMode:   action.CursorMovementNone,
		UseCursorPosOnClicks: true,
		MaxClickInterval:     DefaultMaxClickInterval,
		SendKeyAutoRepeat:    true,
		PlayRepeatCount:      1,
		PlaybackSpeed:        1.0,
		MinWaitMs:            DefaultMinWaitMs,
		WheelBurstGapMs:      DefaultWheelBurstGapMs,
		RepeatMarginMs:       DefaultRepeatMarginMs,
		RepeatMaxDeltaMs:     DefaultRepeatMaxDeltaMs,
		PathBatchSize:        DefaultPathBatchSize,
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	switch o.CursorMovementMode {
	case action.CursorMovementNone, action.CursorMovementAbsolute, action.CursorMovementRelative:
	default:
		return fmt.Errorf("cursor_movement_mode %d is unknown", uint8(o.CursorMovementMode))
	}
	if o.MaxClickInterval <= 0 {
		return errors.New("max_click_interval_ms must be > 0")
	}
	if o.PlaybackSpeed <= 0 {
		return errors.New("playback_speed must be > 0")
	}
	if o.MinWaitMs < 0 {
		return errors.New("min_wait_ms must be >= 0")
	}
	if o.WheelBurstGapMs <= 0 {
		return errors.New("wheel_burst_gap_ms must be > 0")
	}
	if o.RepeatMarginMs <= 0 {
		return errors.New("repeat_margin_ms must be > 0")
	}
	if o.RepeatMaxDeltaMs <= o.RepeatMarginMs {
		return errors.New("repeat_max_delta_ms must be > repeat_margin_ms")
	}
	if o.PathBatchSize <= 0 {
		return errors.New("path_batch_size must be > 0")
	}
	return nil
}

// Iterations returns how many times a playback runs; -1 means forever.
func (o Options) Iterations() int {
	switch {
	case o.PlayRepeatCount < 0:
		return -1
	case o.PlayRepeatCount == 0:
		return 1
	default:
		return o.PlayRepeatCount
	}
}

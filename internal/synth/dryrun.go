package synth

import (
	"log/slog"

	"actionrepeater/internal/action"
)

// DryRun logs every synthesized event instead of injecting it.
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun returns a DryRun logging at info level to logger.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger.With("synth", "dry-run")}
}

func (d *DryRun) KeyDown(k action.Key) error {
	d.logger.Info("key down", "key", k)
	return nil
}

func (d *DryRun) KeyRepeat(k action.Key) error {
	d.logger.Info("key repeat", "key", k)
	return nil
}

func (d *DryRun) KeyUp(k action.Key) error {
	d.logger.Info("key up", "key", k)
	return nil
}

func (d *DryRun) ButtonDown(b action.Button) error {
	if _, err := ButtonCode(b); err != nil {
		return err
	}
	d.logger.Info("button down", "button", b)
	return nil
}

func (d *DryRun) ButtonUp(b action.Button) error {
	if _, err := ButtonCode(b); err != nil {
		return err
	}
	d.logger.Info("button up", "button", b)
	return nil
}

func (d *DryRun) Wheel(steps int, horizontal bool) error {
	d.logger.Info("wheel", "steps", steps, "horizontal", horizontal)
	return nil
}

func (d *DryRun) MoveTo(p action.Point) error {
	d.logger.Info("move to", "x", p.X, "y", p.Y)
	return nil
}

func (d *DryRun) MoveBy(dx, dy int) error {
	d.logger.Info("move by", "dx", dx, "dy", dy)
	return nil
}

func (d *DryRun) Close() error { return nil }

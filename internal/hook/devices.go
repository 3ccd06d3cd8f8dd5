package hook

import (
	"fmt"
	"path/filepath"
	"slices"
)

// DefaultDeviceDir is where udev publishes stable input device links.
const DefaultDeviceDir = "/dev/input/by-path"

// DiscoverDevices returns the event devices udev classifies as keyboards or
// mice under dir, resolved to their /dev/input/event* targets and
// deduplicated.
func DiscoverDevices(dir string) ([]string, error) {
	var out []string
	for _, suffix := range []string{"-event-kbd", "-event-mouse"} {
		links, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
		if err != nil {
			return nil, fmt.Errorf("discover input devices: %w", err)
		}
		for _, link := range links {
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				continue
			}
			if !slices.Contains(out, target) {
				out = append(out, target)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("discover input devices: no keyboard or mouse under %s", dir)
	}
	slices.Sort(out)
	return out, nil
}

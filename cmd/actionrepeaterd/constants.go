package main

import (
	"actionrepeater/internal/control"
	"actionrepeater/internal/hook"
)

const version = "0.3.0"

// Defaults shared by DefaultConfig and the flag help text.
const (
	defaultSocketPath   = control.DefaultSocketPath
	defaultDeviceDir    = hook.DefaultDeviceDir
	defaultWSListen     = "127.0.0.1:3011"
	defaultWSPath       = "/ws/state"
	defaultDeviceName   = "actionrepeater"
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080

	// commandQueueSize bounds IPC commands waiting for the command loop.
	commandQueueSize = 64
	// broadcastQueueSize bounds state changes waiting for the hub.
	// Producers never block; overflow is dropped with a warning.
	broadcastQueueSize = 512

	// maxIPCLine caps one IPC request line; imports carry whole action files.
	maxIPCLine = 16 << 20
)

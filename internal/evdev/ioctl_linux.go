//go:build linux

package evdev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request numbers (from <linux/input.h> and <linux/uinput.h>).
const (
	EVIOCSCLOCKID = 0x400445a0

	UI_DEV_CREATE  = 0x5501
	UI_DEV_DESTROY = 0x5502
	UI_DEV_SETUP   = 0x405c5503
	UI_ABS_SETUP   = 0x401c5504
	UI_SET_EVBIT   = 0x40045564
	UI_SET_KEYBIT  = 0x40045565
	UI_SET_RELBIT  = 0x40045566
	UI_SET_ABSBIT  = 0x40045567
	UI_SET_PROPBIT = 0x4004556e
)

// UinputSetup mirrors struct uinput_setup.
type UinputSetup struct {
	BusType      uint16
	Vendor       uint16
	Product      uint16
	Version      uint16
	Name         [80]byte
	FFEffectsMax uint32
}

// AbsInfo mirrors struct input_absinfo.
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// UinputAbsSetup mirrors struct uinput_abs_setup.
type UinputAbsSetup struct {
	Code uint16
	_    uint16
	Info AbsInfo
}

// SetClockMonotonic switches the timestamps of an evdev fd to CLOCK_MONOTONIC.
func SetClockMonotonic(fd int) error {
	return unix.IoctlSetPointerInt(fd, EVIOCSCLOCKID, unix.CLOCK_MONOTONIC)
}

// SetBit issues one of the UI_SET_*BIT requests.
func SetBit(fd int, req uint, bit int) error {
	return unix.IoctlSetInt(fd, req, bit)
}

// DevSetup issues UI_DEV_SETUP.
func DevSetup(fd int, s *UinputSetup) error {
	return ioctlPtr(fd, UI_DEV_SETUP, unsafe.Pointer(s))
}

// AbsSetup issues UI_ABS_SETUP.
func AbsSetup(fd int, s *UinputAbsSetup) error {
	return ioctlPtr(fd, UI_ABS_SETUP, unsafe.Pointer(s))
}

// DevCreate issues UI_DEV_CREATE.
func DevCreate(fd int) error {
	return ioctlNoArg(fd, UI_DEV_CREATE)
}

// DevDestroy issues UI_DEV_DESTROY.
func DevDestroy(fd int) error {
	return ioctlNoArg(fd, UI_DEV_DESTROY)
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlNoArg(fd int, req uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

package domain

import "errors"

var (
	// ErrUnknownCommand is returned for command types the vehicle does not
	// implement.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrBadValue is returned when a command value has the wrong JSON shape
	// for its command type.
	ErrBadValue = errors.New("bad command value")

	// ErrQueueFull is returned when the drive loop's command channel is
	// saturated and the command was dropped.
	ErrQueueFull = errors.New("command queue full")

	// ErrNotRunning is returned when dispatching to a drive loop that has
	// not been started or has already stopped.
	ErrNotRunning = errors.New("drive loop not running")
)

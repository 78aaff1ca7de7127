package gateway

import "errors"

var (
	// ErrNotRunning is returned when a command is issued before Start
	// or after Stop.
	ErrNotRunning = errors.New("gateway: not running")

	// ErrDispatchFailed is returned when a command could not be
	// published to the broker. The command record is finalized as
	// failed; no response will ever arrive.
	ErrDispatchFailed = errors.New("gateway: dispatch failed")

	// ErrInvalidCommand is returned when the command name is empty.
	ErrInvalidCommand = errors.New("gateway: invalid command")
)

package command

import "errors"

var (
	// ErrRecordNotFound is returned when a correlation ID does not exist.
	ErrRecordNotFound = errors.New("command: record not found")

	// ErrRecordExists is returned when creating a record with a
	// correlation ID that already exists.
	ErrRecordExists = errors.New("command: record already exists")

	// ErrAlreadyFinalized is returned when finalizing a record that has
	// already left the pending state. The first finalization wins.
	ErrAlreadyFinalized = errors.New("command: record already finalized")

	// ErrInvalidStatus is returned when a status value is not recognised
	// or is not a terminal outcome where one is required.
	ErrInvalidStatus = errors.New("command: invalid status")
)

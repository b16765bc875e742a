package host

import "errors"

var (
	// ErrStreamConsumed is returned when an instance asks for its stream head twice.
	ErrStreamConsumed = errors.New("stream can only be taken once")

	// ErrUnknownInstance is returned when an identifier does not name any instance.
	ErrUnknownInstance = errors.New("invalid instance identifier")

	// ErrMissingEntryPoint is returned when an interpreter does not expose a codec property.
	ErrMissingEntryPoint = errors.New("could not find property")

	// ErrTerminated is returned by operations that need a live instance.
	ErrTerminated = errors.New("instance is terminated")

	// ErrBootImageNotFound is returned when the boot loader cannot open a program image.
	ErrBootImageNotFound = errors.New("boot image not found")
)

// Package serialport provides the serial link to the radar unit: connection
// option handling, a minimal port interface so tests can run without
// hardware, and a frame poller that reopens the port lazily after errors.
package serialport

import (
	"io"

	"go.bug.st/serial"
)

// Porter defines the minimal interface needed for a serial port. The
// abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// InputFlusher is an optional interface for ports that can discard pending
// input. Real ports implement it; the poller drains stale bytes through it
// before each frame read so a slow consumer never correlates old frames.
type InputFlusher interface {
	ResetInputBuffer() error
}

// Opener is a function type for opening serial ports, allowing tests to
// substitute a fake port factory.
type Opener func(path string, mode *serial.Mode) (Porter, error)

// RealOpen opens a physical serial port via go.bug.st/serial.
func RealOpen(path string, mode *serial.Mode) (Porter, error) {
	return serial.Open(path, mode)
}

package serialport

import (
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// Poller reads fixed-size frames from the radar serial port. The port is
// opened lazily on first read and discarded on any read error, so the next
// read attempts a fresh open. There is no dedicated reconnect goroutine;
// access is confined to whichever goroutine calls ReadFrame.
type Poller struct {
	path string
	mode *serial.Mode
	open Opener

	mu   sync.Mutex
	port Porter
}

// NewPoller creates a poller for the port at path. The options are
// normalized up front so a misconfigured port fails at startup rather than
// on first read.
func NewPoller(path string, opts Options) (*Poller, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, fmt.Errorf("invalid serial options for %s: %w", path, err)
	}
	return &Poller{
		path: path,
		mode: mode,
		open: RealOpen,
	}, nil
}

// NewPollerWithOpener builds a poller using a custom port factory. Exposed
// for tests and mock hardware rigs.
func NewPollerWithOpener(path string, opts Options, open Opener) (*Poller, error) {
	p, err := NewPoller(path, opts)
	if err != nil {
		return nil, err
	}
	p.open = open
	return p, nil
}

// ReadFrame reads up to len(buf) bytes from the port into buf. A short read
// is not an error; the radar simply had nothing to say. Any port error
// discards the handle so the next call reopens the port.
func (p *Poller) ReadFrame(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		port, err := p.open(p.path, p.mode)
		if err != nil {
			return 0, fmt.Errorf("failed to open serial port %s: %w", p.path, err)
		}
		p.port = port
	}

	// Drain any backlog so the frame we read reflects the current target,
	// not one buffered while the correlation engine was busy.
	if f, ok := p.port.(InputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			monitoring.Logf("serial input flush failed: %v", err)
		}
	}

	n, err := p.port.Read(buf)
	if err != nil {
		p.port.Close()
		p.port = nil
		return 0, fmt.Errorf("serial read failed on %s: %w", p.path, err)
	}
	return n, nil
}

// Close releases the underlying port if one is open.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

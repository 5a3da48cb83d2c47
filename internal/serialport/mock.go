package serialport

import (
	"io"
	"sync"
)

// MockPort implements Porter with scripted reads for testing. Each call to
// Read returns the next queued chunk verbatim, which lets tests exercise
// short reads and error injection without hardware.
type MockPort struct {
	mu      sync.Mutex
	chunks  [][]byte
	errs    []error
	flushed int
	writes  [][]byte
	closed  bool
}

// NewMockPort creates a mock port that replays the given chunks in order.
func NewMockPort(chunks ...[]byte) *MockPort {
	return &MockPort{chunks: chunks}
}

// QueueError makes the next Read return err instead of data.
func (m *MockPort) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *MockPort) Read(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return 0, err
	}
	if m.closed || len(m.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := m.chunks[0]
	m.chunks = m.chunks[1:]
	return copy(buf, chunk), nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Flushes reports how many times the input buffer was reset.
func (m *MockPort) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

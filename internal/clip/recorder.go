// Package clip buffers recent camera frames in memory and hands them to a
// pluggable encoder when an event needs video evidence. The encoder itself
// is an external collaborator; this package only owns the ring buffer.
package clip

import "sync"

// Encoder turns buffered frames into an encoded video clip.
type Encoder interface {
	Encode(frames [][]byte, fps int) ([]byte, error)
}

// Recorder keeps the most recent frames in a fixed-capacity ring.
type Recorder struct {
	fps int
	enc Encoder

	mu       sync.Mutex
	frames   [][]byte
	capacity int
}

// NewRecorder creates a recorder holding up to capacity frames.
func NewRecorder(capacity, fps int, enc Encoder) *Recorder {
	if capacity <= 0 {
		capacity = 100
	}
	if fps <= 0 {
		fps = 20
	}
	return &Recorder{
		fps:      fps,
		enc:      enc,
		capacity: capacity,
	}
}

// AddFrame appends a copy of frame, evicting the oldest when full.
func (r *Recorder) AddFrame(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), frame...))
	if len(r.frames) > r.capacity {
		r.frames = r.frames[1:]
	}
}

// Len reports the number of buffered frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// ClipBytes encodes a snapshot of the current buffer. An empty buffer or a
// recorder without an encoder yields nil without error; events simply go
// out without video.
func (r *Recorder) ClipBytes() ([]byte, error) {
	r.mu.Lock()
	snapshot := make([][]byte, len(r.frames))
	copy(snapshot, r.frames)
	r.mu.Unlock()

	if len(snapshot) == 0 || r.enc == nil {
		return nil, nil
	}
	return r.enc.Encode(snapshot, r.fps)
}

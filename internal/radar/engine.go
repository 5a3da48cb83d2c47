package radar

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// ErrUnregisteredClass is returned when a match is requested for an object
// class that was never registered. Classes must be registered before the
// first match so calibration state always exists.
var ErrUnregisteredClass = errors.New("object class not registered for calibration")

// matchMargin is subtracted from the caller's threshold to form the floor
// below which buffered readings are never considered.
const matchMargin = 5

// Config holds the tunable parameters of the correlation engine.
type Config struct {
	MaxAge              time.Duration // retention limit for rank-1 entries
	MaxDiff             int           // speed jump treated as a new object, not noise
	CalibrationRequired int           // matches before per-class calibration turns off
}

// DefaultConfig returns the engine parameters used when the device
// configuration leaves them unset.
func DefaultConfig() Config {
	return Config{
		MaxAge:              10 * time.Second,
		MaxDiff:             15,
		CalibrationRequired: 2,
	}
}

// rankEntry is a buffered reading awaiting correlation. Entries are owned
// exclusively by the bucket holding them and removed outright when consumed
// or aged out.
type rankEntry struct {
	ts    time.Time
	speed int
}

// calibrationState tracks per-class calibration progress. The deltas between
// radar and vision speeds collected while calibrating feed the bias
// estimate.
type calibrationState struct {
	active  bool
	matches int
	deltas  []float64
}

// MatchRecorder receives resolved correlations for offline auditing. It is
// called outside the engine lock and must tolerate being slow.
type MatchRecorder interface {
	RecordMatch(class string, radarSpeed int, aiSpeed float64, calibrating bool) error
}

// FrameSource supplies raw radar frames. A short read means no data was
// available, which is a normal condition.
type FrameSource interface {
	ReadFrame(buf []byte) (int, error)
}

// Engine ingests decoded speed readings into three tiered rank buckets and
// resolves vision-estimated speeds against them. Rank-1 holds the freshest
// candidates, rank-2 a small confirmation window, and rank-3 a single stale
// last resort. One mutex guards all shared state; it is never held across
// I/O.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	rank1   []rankEntry
	rank2   []rankEntry
	rank3   []rankEntry
	count   int // consecutive non-zero readings since last reset
	prev    int
	hasPrev bool
	classes map[string]*calibrationState

	recorder MatchRecorder
	// ErrorHook, when set, receives transient ingestion errors so they can
	// be mirrored onto the operator log channel.
	ErrorHook func(message, details string)

	now func() time.Time
}

// NewEngine creates a correlation engine with the given parameters.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.MaxDiff <= 0 {
		cfg.MaxDiff = DefaultConfig().MaxDiff
	}
	if cfg.CalibrationRequired <= 0 {
		cfg.CalibrationRequired = DefaultConfig().CalibrationRequired
	}
	return &Engine{
		cfg:     cfg,
		classes: make(map[string]*calibrationState),
		now:     time.Now,
	}
}

// SetRecorder attaches an audit recorder for resolved matches.
func (e *Engine) SetRecorder(r MatchRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// RegisterClass creates calibration state for an object class. Registration
// is idempotent; the class starts out calibrating.
func (e *Engine) RegisterClass(class string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.classes[class]; !ok {
		e.classes[class] = &calibrationState{active: true}
	}
}

// StopCalibrating turns calibration mode off for a class.
func (e *Engine) StopCalibrating(class string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.classes[class]
	if !ok {
		return ErrUnregisteredClass
	}
	st.active = false
	return nil
}

// Calibrating reports whether a class is still in calibration mode.
func (e *Engine) Calibrating(class string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.classes[class]
	if !ok {
		return false, ErrUnregisteredClass
	}
	return st.active, nil
}

// Bias returns the mean radar-minus-vision speed delta collected while the
// class was calibrating. Zero until at least one calibration match has
// been resolved.
func (e *Engine) Bias(class string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.classes[class]
	if !ok {
		return 0, ErrUnregisteredClass
	}
	if len(st.deltas) == 0 {
		return 0, nil
	}
	return stat.Mean(st.deltas, nil), nil
}

// Ingest feeds one decoded reading into the rank buckets.
func (e *Engine) Ingest(r SpeedReading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasPrev && abs(r.Speed-e.prev) > e.cfg.MaxDiff {
		// A jump this large is a new object, not noise on the old one.
		e.count = 0
	}
	e.prev = r.Speed
	e.hasPrev = true

	if r.Speed == 0 {
		e.count = 0
		return
	}

	e.count++
	now := e.now()
	switch {
	case e.count == 1:
		e.pruneRank1(now)
		e.rank1 = append(e.rank1, rankEntry{ts: now, speed: r.Speed})
	case e.count%2 == 0:
		e.rank2 = append(e.rank2, rankEntry{ts: now, speed: r.Speed})
		if len(e.rank2) >= 2 {
			// Promote the oldest confirmation into the last-resort slot,
			// which only ever keeps its single most recent entry.
			e.rank3 = append(e.rank3, e.rank2[0])
			e.rank2 = e.rank2[1:]
			if n := len(e.rank3); n > 1 {
				e.rank3 = e.rank3[n-1:]
			}
		}
	}
	// Odd counts above 1 are observed but not buffered.
}

// pruneRank1 drops rank-1 entries older than MaxAge. Caller holds e.mu.
func (e *Engine) pruneRank1(now time.Time) {
	fresh := e.rank1[:0]
	for _, entry := range e.rank1 {
		if now.Sub(entry.ts) < e.cfg.MaxAge {
			fresh = append(fresh, entry)
		}
	}
	e.rank1 = fresh
}

// Match resolves a vision-estimated speed against the buffered radar
// readings. Readings at or below threshold-5 are never considered. While
// the class is calibrating the nearest reading to aiSpeed wins (to learn
// bias); afterwards the earliest eligible reading wins so old evidence is
// used up first. The matched entry is consumed. ok is false when nothing
// matched.
func (e *Engine) Match(aiSpeed, threshold float64, class string) (speed int, ok bool, err error) {
	e.mu.Lock()
	speed, calibrating, ok, err := e.matchLocked(aiSpeed, threshold, class)
	rec := e.recorder
	e.mu.Unlock()
	if err != nil || !ok {
		return 0, false, err
	}
	if rec != nil {
		if recErr := rec.RecordMatch(class, speed, aiSpeed, calibrating); recErr != nil {
			monitoring.Logf("failed to record match audit: %v", recErr)
		}
	}
	return speed, true, nil
}

func (e *Engine) matchLocked(aiSpeed, threshold float64, class string) (int, bool, bool, error) {
	st, registered := e.classes[class]
	if !registered {
		return 0, false, false, ErrUnregisteredClass
	}

	e.pruneRank1(e.now())
	if len(e.rank1) == 0 && len(e.rank2) == 0 && len(e.rank3) == 0 {
		return 0, false, false, nil
	}

	minSpeed := threshold - matchMargin

	if st.active {
		best := -1
		for i, entry := range e.rank1 {
			if float64(entry.speed) <= minSpeed {
				continue
			}
			if best < 0 || math.Abs(float64(entry.speed)-aiSpeed) < math.Abs(float64(e.rank1[best].speed)-aiSpeed) {
				best = i
			}
		}
		if best < 0 {
			return 0, false, false, nil
		}
		matched := e.rank1[best]
		e.rank1 = append(e.rank1[:best], e.rank1[best+1:]...)
		st.matches++
		st.deltas = append(st.deltas, float64(matched.speed)-aiSpeed)
		if st.matches > e.cfg.CalibrationRequired {
			st.active = false
			monitoring.Logf("calibration complete for class %q after %d matches", class, st.matches)
		}
		return matched.speed, true, true, nil
	}

	for _, bucket := range []*[]rankEntry{&e.rank1, &e.rank2, &e.rank3} {
		best := -1
		for i, entry := range *bucket {
			if float64(entry.speed) <= minSpeed {
				continue
			}
			if best < 0 || entry.ts.Before((*bucket)[best].ts) {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		matched := (*bucket)[best]
		*bucket = append((*bucket)[:best], (*bucket)[best+1:]...)
		return matched.speed, false, true, nil
	}

	return 0, false, false, nil
}

// Run polls the frame source until the context is cancelled, decoding and
// ingesting readings as they arrive. Serial errors are reported through the
// hook and retried after a short pause; the underlying poller reopens the
// port lazily.
func (e *Engine) Run(ctx context.Context, src FrameSource) error {
	buf := make([]byte, FrameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.ReadFrame(buf)
		if err != nil {
			monitoring.Logf("radar read error: %v", err)
			if e.ErrorHook != nil {
				e.ErrorHook("radar read error", err.Error())
			}
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if n < FrameSize {
			if !sleepCtx(ctx, 10*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}

		if reading, ok := DecodeFrame(buf[:n]); ok {
			e.Ingest(reading)
		}
	}
}

// snapshot returns copies of the rank buckets for tests.
func (e *Engine) snapshot() (r1, r2, r3 []rankEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]rankEntry(nil), e.rank1...),
		append([]rankEntry(nil), e.rank2...),
		append([]rankEntry(nil), e.rank3...)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

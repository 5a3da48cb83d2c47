package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// Event is one correlated detection awaiting shipment. Byte payloads are
// replaced by storage references before publish; the event is dropped after
// the publish attempt regardless of outcome.
type Event struct {
	PrimaryImage []byte
	Snapshot     []byte
	Video        []byte // optional
	Metadata     map[string]any
}

const (
	// disconnectedSleep is how long the loop pauses when no broker is
	// reachable before trying again. No queue draining happens meanwhile.
	disconnectedSleep = 10 * time.Second
	// activeSleep is the minimal pause after a pass that moved messages.
	activeSleep = 100 * time.Millisecond
	// maxEmptySleep caps the linear empty-pass backoff.
	maxEmptySleep = 10 * time.Second
)

// Dispatcher drains the event and analytics queues, uploads media, and
// publishes the results. Queue reads are non-blocking: an empty queue is a
// normal condition that feeds the backoff policy, not an error.
type Dispatcher struct {
	broker   *BrokerManager
	storage  *StorageManager
	reporter *ErrorReporter

	events    <-chan *Event
	analytics <-chan map[string]any

	eventsTopic    string
	analyticsTopic string

	// clips, when set, supplies a video clip for events that arrive
	// without one.
	clips ClipSource

	// wait is swappable for tests; it returns false when the context ended.
	wait func(ctx context.Context, d time.Duration) bool
}

// ClipSource cuts a video clip of the footage buffered around an event.
// A nil clip with nil error means no footage is available.
type ClipSource interface {
	ClipBytes() ([]byte, error)
}

// NewDispatcher wires a dispatcher over its collaborators and input queues.
func NewDispatcher(
	broker *BrokerManager,
	storage *StorageManager,
	reporter *ErrorReporter,
	events <-chan *Event,
	analytics <-chan map[string]any,
	eventsTopic, analyticsTopic string,
) *Dispatcher {
	return &Dispatcher{
		broker:         broker,
		storage:        storage,
		reporter:       reporter,
		events:         events,
		analytics:      analytics,
		eventsTopic:    eventsTopic,
		analyticsTopic: analyticsTopic,
		wait:           waitCtx,
	}
}

// SetClipSource attaches a clip recorder. Events that arrive without video
// get a clip cut from it at dispatch time.
func (d *Dispatcher) SetClipSource(src ClipSource) {
	d.clips = src
}

// emptyBackoff returns the sleep after the n-th consecutive empty pass:
// linear growth of two seconds per pass, capped at ten.
func emptyBackoff(consecutiveEmpty int) time.Duration {
	d := time.Duration(consecutiveEmpty) * 2 * time.Second
	if d > maxEmptySleep {
		return maxEmptySleep
	}
	return d
}

// Run executes the dispatch loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	consecutiveEmpty := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !d.broker.Connected() {
			if err := d.broker.Connect(ctx); err != nil {
				monitoring.Logf("no broker available, retrying: %v", err)
				if !d.wait(ctx, disconnectedSleep) {
					return ctx.Err()
				}
				continue
			}
		}

		processed := d.pass(ctx)
		if processed == 0 {
			consecutiveEmpty++
			if !d.wait(ctx, emptyBackoff(consecutiveEmpty)) {
				return ctx.Err()
			}
			continue
		}
		consecutiveEmpty = 0
		if !d.wait(ctx, activeSleep) {
			return ctx.Err()
		}
	}
}

// pass drains at most one item from each queue and returns how many it
// moved.
func (d *Dispatcher) pass(ctx context.Context) int {
	processed := 0

	select {
	case ev := <-d.events:
		if ev != nil {
			d.dispatchEvent(ctx, ev)
			processed++
		}
	default:
	}

	select {
	case msg := <-d.analytics:
		if msg != nil {
			d.publishJSON(ctx, d.analyticsTopic, msg)
			processed++
		}
	default:
	}

	return processed
}

// dispatchEvent uploads the event's media and publishes the resulting
// record. The primary image and snapshot are required: if either upload
// fails the event is dropped without a publish attempt. Video is
// best-effort and its absence is represented as a null reference.
func (d *Dispatcher) dispatchEvent(ctx context.Context, ev *Event) {
	imageRef, imageOK := d.storage.Upload(ctx, ev.PrimaryImage, KindImage)
	snapRef, snapOK := d.storage.Upload(ctx, ev.Snapshot, KindImage)

	video := ev.Video
	if len(video) == 0 && d.clips != nil {
		clip, err := d.clips.ClipBytes()
		if err != nil {
			monitoring.Logf("clip encode failed, event goes out without video: %v", err)
		} else {
			video = clip
		}
	}

	var videoRef any
	if len(video) > 0 {
		if ref, ok := d.storage.Upload(ctx, video, KindVideo); ok {
			videoRef = ref
		}
	}

	if !imageOK || !snapOK {
		monitoring.Logf("dropping event: media upload failed (image=%v snapshot=%v)", imageOK, snapOK)
		d.reporter.Report(ctx, "event media upload failed", "all storage backends exhausted")
		return
	}

	payload := make(map[string]any, len(ev.Metadata)+3)
	for k, v := range ev.Metadata {
		payload[k] = v
	}
	payload["org_img"] = imageRef
	payload["snap_shot"] = snapRef
	payload["video"] = videoRef

	d.publishJSON(ctx, d.eventsTopic, payload)
}

func (d *Dispatcher) publishJSON(ctx context.Context, topic string, msg map[string]any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("failed to encode message for %s: %v", topic, err)
		return
	}
	if err := d.broker.Publish(ctx, topic, payload); err != nil {
		monitoring.Logf("dropping message for %s: %v", topic, err)
		d.reporter.Report(ctx, "publish failed, message dropped", topic)
	}
}

func waitCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

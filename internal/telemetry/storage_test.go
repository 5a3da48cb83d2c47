package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeObjectAPI counts calls and fails until the configured attempt.
type fakeObjectAPI struct {
	puts    int
	lists   int
	failAll bool
}

func (f *fakeObjectAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.failAll {
		return nil, errors.New("connection refused")
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	if f.failAll {
		return nil, errors.New("connection refused")
	}
	return &s3.ListObjectsV2Output{}, nil
}

func newTestStorageManager(primary, secondary *fakeObjectAPI) *StorageManager {
	endpoints := []Endpoint[BackendConfig]{
		{ID: "primary", Config: BackendConfig{Name: "primary", Bucket: "bucket-a", Region: "eu-west-1"}},
		{ID: "secondary", Config: BackendConfig{Name: "secondary", Bucket: "bucket-b", Region: "us-east-1"}},
	}
	m := &StorageManager{
		clients: map[string]objectAPI{"primary": primary, "secondary": secondary},
		retries: 2,
		delay:   time.Second,
		sleep:   func(time.Duration) {},
	}
	m.tracker = NewTracker(endpoints, 30*time.Second, m.probeBackend)
	return m
}

func TestUploadImageReturnsKey(t *testing.T) {
	m := newTestStorageManager(&fakeObjectAPI{}, &fakeObjectAPI{})

	ref, ok := m.Upload(context.Background(), []byte("jpeg bytes"), KindImage)
	if !ok {
		t.Fatal("Upload failed with healthy backends")
	}
	if !strings.HasSuffix(ref, ".jpg") {
		t.Errorf("image reference = %q, want bare object key ending in .jpg", ref)
	}
	if strings.Contains(ref, "amazonaws.com") {
		t.Errorf("image reference = %q, must not be a URL", ref)
	}
}

func TestUploadFailoverToSecondBackend(t *testing.T) {
	primary := &fakeObjectAPI{failAll: true}
	secondary := &fakeObjectAPI{}
	m := newTestStorageManager(primary, secondary)

	ref, ok := m.Upload(context.Background(), []byte("mp4 bytes"), KindVideo)
	if !ok {
		t.Fatal("Upload failed despite healthy secondary")
	}
	// Video references are fully-qualified URLs shaped by the backend that
	// accepted the upload.
	if !strings.HasPrefix(ref, "https://bucket-b.s3.us-east-1.amazonaws.com/clips") {
		t.Errorf("video reference = %q, want bucket-b URL", ref)
	}
	if !strings.HasSuffix(ref, ".mp4") {
		t.Errorf("video reference = %q, want .mp4 suffix", ref)
	}
	if primary.puts != 2 {
		t.Errorf("primary saw %d attempts, want 2 (retry ceiling)", primary.puts)
	}
	if m.tracker.Healthy("primary") {
		t.Error("primary should be marked unhealthy after exhausting retries")
	}
}

func TestUploadSkipsUnhealthyBackend(t *testing.T) {
	primary := &fakeObjectAPI{}
	secondary := &fakeObjectAPI{}
	m := newTestStorageManager(primary, secondary)
	m.tracker.MarkFailed("primary")

	if _, ok := m.Upload(context.Background(), []byte("x"), KindImage); !ok {
		t.Fatal("Upload failed despite healthy secondary")
	}
	if primary.puts != 0 {
		t.Errorf("unhealthy primary saw %d attempts, want 0", primary.puts)
	}
	if secondary.puts != 1 {
		t.Errorf("secondary saw %d attempts, want 1", secondary.puts)
	}
}

func TestUploadAllBackendsExhausted(t *testing.T) {
	m := newTestStorageManager(&fakeObjectAPI{failAll: true}, &fakeObjectAPI{failAll: true})

	if _, ok := m.Upload(context.Background(), []byte("x"), KindImage); ok {
		t.Fatal("Upload succeeded with every backend failing")
	}
	if m.tracker.Healthy("primary") || m.tracker.Healthy("secondary") {
		t.Error("both backends should be marked unhealthy")
	}
}

func TestUploadReprobesFailedBackendsAfterTimeout(t *testing.T) {
	primary := &fakeObjectAPI{}
	secondary := &fakeObjectAPI{}
	m := newTestStorageManager(primary, secondary)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.tracker.now = func() time.Time { return clock }
	m.tracker.MarkFailed("primary")
	m.tracker.MarkFailed("secondary")

	// Inside the failover window nothing is probed and the upload fails.
	if _, ok := m.Upload(context.Background(), []byte("x"), KindImage); ok {
		t.Fatal("Upload succeeded with every backend marked failed")
	}
	if primary.lists != 0 || secondary.lists != 0 {
		t.Fatalf("probes before timeout: primary=%d secondary=%d, want 0/0", primary.lists, secondary.lists)
	}

	// Once the timeout passes, both backends are probed, recover, and the
	// upload goes through.
	clock = clock.Add(31 * time.Second)
	ref, ok := m.Upload(context.Background(), []byte("x"), KindImage)
	if !ok {
		t.Fatal("Upload failed after backends became reachable again")
	}
	if ref == "" {
		t.Error("recovered upload returned an empty reference")
	}
	if primary.lists != 1 || secondary.lists != 1 {
		t.Errorf("probes after timeout: primary=%d secondary=%d, want 1/1", primary.lists, secondary.lists)
	}
	if primary.puts != 1 {
		t.Errorf("primary saw %d put attempts after recovery, want 1", primary.puts)
	}
	if !m.tracker.Healthy("primary") || !m.tracker.Healthy("secondary") {
		t.Error("both backends should be healthy again after successful probes")
	}
}

func TestObjectKeyShapes(t *testing.T) {
	imgKey, imgType := objectKey(KindImage)
	if !strings.HasSuffix(imgKey, ".jpg") || imgType != "image/jpg" {
		t.Errorf("image key/type = %q/%q", imgKey, imgType)
	}
	vidKey, vidType := objectKey(KindVideo)
	if !strings.HasPrefix(vidKey, "clips") || !strings.HasSuffix(vidKey, ".mp4") || vidType != "video/mp4" {
		t.Errorf("video key/type = %q/%q", vidKey, vidType)
	}
	if k2, _ := objectKey(KindImage); k2 == imgKey {
		t.Error("object keys must be unique per upload")
	}
}

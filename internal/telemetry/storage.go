package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// ObjectKind selects the content type and reference shape of an upload.
type ObjectKind string

const (
	KindImage ObjectKind = "image"
	KindVideo ObjectKind = "video"
)

// BackendConfig describes one object-storage backend.
type BackendConfig struct {
	Name            string `json:"name"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// objectAPI is the slice of the S3 client the manager uses. Narrowed so
// tests can substitute a fake.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const probeTimeout = 5 * time.Second

// StorageManager uploads media to redundant object-storage backends. Unlike
// broker selection, an upload walks every healthy backend in configured
// order until one succeeds: puts are idempotent, so trying them all is
// safe and maximizes the chance the media survives.
type StorageManager struct {
	tracker *Tracker[BackendConfig]
	clients map[string]objectAPI
	retries int
	delay   time.Duration

	sleep func(time.Duration)
}

// NewStorageManager builds a manager with a real S3 client per backend.
func NewStorageManager(backends []BackendConfig, failoverTimeout time.Duration, retries int, delay time.Duration) *StorageManager {
	m := &StorageManager{
		clients: make(map[string]objectAPI, len(backends)),
		retries: retries,
		delay:   delay,
		sleep:   time.Sleep,
	}
	if m.retries <= 0 {
		m.retries = 3
	}
	if m.delay <= 0 {
		m.delay = time.Second
	}

	endpoints := make([]Endpoint[BackendConfig], 0, len(backends))
	for _, cfg := range backends {
		endpoints = append(endpoints, Endpoint[BackendConfig]{ID: cfg.Name, Config: cfg})
		m.clients[cfg.Name] = s3.New(s3.Options{
			Region: cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		})
	}
	m.tracker = NewTracker(endpoints, failoverTimeout, m.probeBackend)
	return m
}

// probeBackend checks reachability with a single-key list, the cheapest
// call that exercises both auth and the bucket.
func (m *StorageManager) probeBackend(ep Endpoint[BackendConfig]) bool {
	client, ok := m.clients[ep.ID]
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	_, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(ep.Config.Bucket),
		MaxKeys: aws.Int32(1),
	})
	return err == nil
}

// objectKey generates a globally unique key and content type for a kind.
func objectKey(kind ObjectKind) (key, contentType string) {
	switch kind {
	case KindVideo:
		return fmt.Sprintf("clips%s.mp4", uuid.New()), "video/mp4"
	default:
		return fmt.Sprintf("%s.jpg", uuid.New()), "image/jpg"
	}
}

// Upload stores data on the first backend that accepts it and returns the
// media reference: the object key for images (consumers resolve it against
// the known bucket) and a fully-qualified URL for videos. Each healthy
// backend gets up to the configured retry count with a fixed delay between
// attempts; exhausting a backend marks it failed. Backends marked failed
// earlier are reprobed first once the failover timeout has passed, so a
// transient dual outage does not end uploads for good. ok is false only when
// every backend is exhausted, which callers treat as "media unavailable",
// not as a reason to abort the event.
func (m *StorageManager) Upload(ctx context.Context, data []byte, kind ObjectKind) (ref string, ok bool) {
	key, contentType := objectKey(kind)

	m.tracker.refresh()
	for _, ep := range m.tracker.Endpoints() {
		if !m.tracker.Healthy(ep.ID) {
			continue
		}
		client, have := m.clients[ep.ID]
		if !have {
			continue
		}

		for attempt := 1; attempt <= m.retries; attempt++ {
			_, err := client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(ep.Config.Bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(data),
				ContentType: aws.String(contentType),
			})
			if err == nil {
				if kind == KindVideo {
					return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
						ep.Config.Bucket, ep.Config.Region, key), true
				}
				return key, true
			}
			monitoring.Logf("%s upload attempt %d/%d to %s failed: %v",
				kind, attempt, m.retries, ep.ID, err)
			if attempt < m.retries {
				m.sleep(m.delay)
			}
		}

		m.tracker.MarkFailed(ep.ID)
	}

	return "", false
}

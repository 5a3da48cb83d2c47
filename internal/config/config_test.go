package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"radar": {"port": "/dev/ttyUSB0"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Radar.BaudRate != 9600 {
		t.Errorf("baud rate = %d, want 9600", cfg.Radar.BaudRate)
	}
	if cfg.Radar.MaxAgeSeconds != 10 || cfg.Radar.MaxDiff != 15 || cfg.Radar.CalibrationRequired != 2 {
		t.Errorf("radar defaults = %+v", cfg.Radar)
	}
	if cfg.Kafka.FailoverTimeoutSeconds != 30 {
		t.Errorf("broker failover timeout = %d, want 30", cfg.Kafka.FailoverTimeoutSeconds)
	}
	if cfg.Kafka.LogTopic != "log_topic" {
		t.Errorf("log topic = %q, want log_topic", cfg.Kafka.LogTopic)
	}
	if cfg.Kafka.ErrorIntervalSeconds != 300 {
		t.Errorf("error interval = %d, want 300", cfg.Kafka.ErrorIntervalSeconds)
	}
	if cfg.Storage.UploadRetries != 3 {
		t.Errorf("upload retries = %d, want 3", cfg.Storage.UploadRetries)
	}
}

func TestLoadRequiresRadarPort(t *testing.T) {
	path := writeConfig(t, `{}`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load without radar.port should fail")
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	os.WriteFile(path, []byte("{}"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("Load should reject non-json extensions")
	}
}

func TestBrokerListPrefersExplicitList(t *testing.T) {
	k := KafkaConfig{
		Brokers:         []string{"k1:9092", "k2:9092"},
		PrimaryBroker:   "ignored:9092",
		SecondaryBroker: "also-ignored:9092",
	}
	want := []string{"k1:9092", "k2:9092"}
	if diff := cmp.Diff(want, k.BrokerList()); diff != "" {
		t.Errorf("BrokerList mismatch (-want +got):\n%s", diff)
	}
}

func TestBrokerListPrimarySecondaryPair(t *testing.T) {
	k := KafkaConfig{PrimaryBroker: "k1:9092", SecondaryBroker: "k2:9092"}
	want := []string{"k1:9092", "k2:9092"}
	if diff := cmp.Diff(want, k.BrokerList()); diff != "" {
		t.Errorf("BrokerList mismatch (-want +got):\n%s", diff)
	}

	// Empty configuration degrades to an empty list, not an error; the
	// dispatcher keeps retrying until brokers appear in config reloads.
	if got := (KafkaConfig{}).BrokerList(); len(got) != 0 {
		t.Errorf("empty BrokerList = %v, want none", got)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"sensor_id": "site-42",
		"radar": {"port": "/dev/ttyUSB0", "baud_rate": 9600, "max_age": 8, "max_diff": 12, "calibration_required": 4},
		"kafka": {
			"primary_broker": "k1:9092",
			"secondary_broker": "k2:9092",
			"events_topic": "detections",
			"analytics_topic": "stats",
			"log_topic": "device_logs"
		},
		"storage": {
			"primary": {"bucket_name": "evidence-a", "region_name": "eu-west-1", "aws_access_key_id": "AK1", "aws_secret_access_key": "SK1"},
			"secondary": {"bucket_name": "evidence-b", "region_name": "us-east-1", "aws_access_key_id": "AK2", "aws_secret_access_key": "SK2"},
			"upload_retries": 2
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SensorID != "site-42" {
		t.Errorf("sensor id = %q", cfg.SensorID)
	}
	if cfg.Radar.MaxDiff != 12 || cfg.Radar.CalibrationRequired != 4 {
		t.Errorf("radar config = %+v", cfg.Radar)
	}
	if cfg.Storage.Primary == nil || cfg.Storage.Primary.Bucket != "evidence-a" {
		t.Errorf("primary backend = %+v", cfg.Storage.Primary)
	}
	if cfg.Storage.Secondary == nil || cfg.Storage.Secondary.Region != "us-east-1" {
		t.Errorf("secondary backend = %+v", cfg.Storage.Secondary)
	}
	if cfg.Storage.UploadRetries != 2 {
		t.Errorf("upload retries = %d, want 2", cfg.Storage.UploadRetries)
	}
}

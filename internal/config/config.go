// Package config loads the device configuration file. The schema mirrors
// the deployment JSON shipped to each unit; fields omitted from the file
// pick up defaults in Normalize, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RadarConfig configures the serial link and correlation engine.
type RadarConfig struct {
	Port                string `json:"port"`
	BaudRate            int    `json:"baud_rate"`
	MaxAgeSeconds       int    `json:"max_age"`
	MaxDiff             int    `json:"max_diff"`
	CalibrationRequired int    `json:"calibration_required"`
}

// MaxAge returns the rank-1 retention limit as a duration.
func (r RadarConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeSeconds) * time.Second
}

// KafkaConfig configures the redundant broker pair and topics. Brokers may
// be given as a list or as a primary/secondary pair; BrokerList resolves
// either form.
type KafkaConfig struct {
	Brokers                []string `json:"bootstrap_servers,omitempty"`
	PrimaryBroker          string   `json:"primary_broker,omitempty"`
	SecondaryBroker        string   `json:"secondary_broker,omitempty"`
	FailoverTimeoutSeconds int      `json:"broker_failover_timeout"`
	EventsTopic            string   `json:"events_topic"`
	AnalyticsTopic         string   `json:"analytics_topic"`
	LogTopic               string   `json:"log_topic"`
	ErrorIntervalSeconds   int      `json:"error_interval"`
}

// BrokerList returns the configured brokers in preference order.
func (k KafkaConfig) BrokerList() []string {
	if len(k.Brokers) > 0 {
		return k.Brokers
	}
	var brokers []string
	if k.PrimaryBroker != "" {
		brokers = append(brokers, k.PrimaryBroker)
	}
	if k.SecondaryBroker != "" {
		brokers = append(brokers, k.SecondaryBroker)
	}
	return brokers
}

// FailoverTimeout returns the broker failover timeout as a duration.
func (k KafkaConfig) FailoverTimeout() time.Duration {
	return time.Duration(k.FailoverTimeoutSeconds) * time.Second
}

// ErrorInterval returns the error-log suppression window as a duration.
func (k KafkaConfig) ErrorInterval() time.Duration {
	return time.Duration(k.ErrorIntervalSeconds) * time.Second
}

// S3Backend describes one object-storage backend.
type S3Backend struct {
	Bucket          string `json:"bucket_name"`
	Region          string `json:"region_name"`
	AccessKeyID     string `json:"aws_access_key_id"`
	SecretAccessKey string `json:"aws_secret_access_key"`
}

// StorageConfig configures the redundant storage pair and upload policy.
type StorageConfig struct {
	Primary                 *S3Backend `json:"primary,omitempty"`
	Secondary               *S3Backend `json:"secondary,omitempty"`
	FailoverTimeoutSeconds  int        `json:"s3_failover_timeout"`
	UploadRetries           int        `json:"upload_retries"`
	UploadRetryDelaySeconds int        `json:"upload_retry_delay"`
}

// FailoverTimeout returns the storage failover timeout as a duration.
func (s StorageConfig) FailoverTimeout() time.Duration {
	return time.Duration(s.FailoverTimeoutSeconds) * time.Second
}

// UploadRetryDelay returns the inter-attempt upload delay as a duration.
func (s StorageConfig) UploadRetryDelay() time.Duration {
	return time.Duration(s.UploadRetryDelaySeconds) * time.Second
}

// Config is the root device configuration.
type Config struct {
	SensorID    string        `json:"sensor_id"`
	AuditDBPath string        `json:"audit_db_path"`
	Radar       RadarConfig   `json:"radar"`
	Kafka       KafkaConfig   `json:"kafka"`
	Storage     StorageConfig `json:"storage"`
}

// Normalize applies defaults for unset values.
func (c *Config) Normalize() {
	if c.AuditDBPath == "" {
		c.AuditDBPath = "correlation_audit.db"
	}
	if c.Radar.BaudRate <= 0 {
		c.Radar.BaudRate = 9600
	}
	if c.Radar.MaxAgeSeconds <= 0 {
		c.Radar.MaxAgeSeconds = 10
	}
	if c.Radar.MaxDiff <= 0 {
		c.Radar.MaxDiff = 15
	}
	if c.Radar.CalibrationRequired <= 0 {
		c.Radar.CalibrationRequired = 2
	}
	if c.Kafka.FailoverTimeoutSeconds <= 0 {
		c.Kafka.FailoverTimeoutSeconds = 30
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "events"
	}
	if c.Kafka.AnalyticsTopic == "" {
		c.Kafka.AnalyticsTopic = "analytics"
	}
	if c.Kafka.LogTopic == "" {
		c.Kafka.LogTopic = "log_topic"
	}
	if c.Kafka.ErrorIntervalSeconds <= 0 {
		c.Kafka.ErrorIntervalSeconds = 300
	}
	if c.Storage.FailoverTimeoutSeconds <= 0 {
		c.Storage.FailoverTimeoutSeconds = 30
	}
	if c.Storage.UploadRetries <= 0 {
		c.Storage.UploadRetries = 3
	}
	if c.Storage.UploadRetryDelaySeconds <= 0 {
		c.Storage.UploadRetryDelaySeconds = 1
	}
}

// Validate checks for configuration the device cannot start without. A
// missing broker or storage backend is deliberately not an error: the
// dispatcher degrades to retrying instead, since connectivity may return
// without a restart.
func (c *Config) Validate() error {
	if c.Radar.Port == "" {
		return fmt.Errorf("radar.port is required")
	}
	if c.Radar.MaxDiff < 0 {
		return fmt.Errorf("radar.max_diff must not be negative")
	}
	return nil
}

// Load reads, parses, and validates the configuration at path.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/velocity-edge/speedgate/internal/clip"
	"github.com/velocity-edge/speedgate/internal/config"
	"github.com/velocity-edge/speedgate/internal/radar"
	"github.com/velocity-edge/speedgate/internal/serialport"
	"github.com/velocity-edge/speedgate/internal/store"
	"github.com/velocity-edge/speedgate/internal/telemetry"
)

var configPath = flag.String("config", "device.json", "Path to the device configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	audit, err := store.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}
	defer audit.Close()

	poller, err := serialport.NewPoller(cfg.Radar.Port, serialport.Options{
		BaudRate: cfg.Radar.BaudRate,
	})
	if err != nil {
		log.Fatalf("failed to configure radar port: %v", err)
	}
	defer poller.Close()

	engine := radar.NewEngine(radar.Config{
		MaxAge:              cfg.Radar.MaxAge(),
		MaxDiff:             cfg.Radar.MaxDiff,
		CalibrationRequired: cfg.Radar.CalibrationRequired,
	})
	engine.SetRecorder(audit)

	broker := telemetry.NewBrokerManager(cfg.Kafka.BrokerList(), cfg.Kafka.FailoverTimeout())
	defer broker.Close()

	var backends []telemetry.BackendConfig
	if b := cfg.Storage.Primary; b != nil {
		backends = append(backends, telemetry.BackendConfig{
			Name:            "primary",
			Bucket:          b.Bucket,
			Region:          b.Region,
			AccessKeyID:     b.AccessKeyID,
			SecretAccessKey: b.SecretAccessKey,
		})
	}
	if b := cfg.Storage.Secondary; b != nil {
		backends = append(backends, telemetry.BackendConfig{
			Name:            "secondary",
			Bucket:          b.Bucket,
			Region:          b.Region,
			AccessKeyID:     b.AccessKeyID,
			SecretAccessKey: b.SecretAccessKey,
		})
	}
	storage := telemetry.NewStorageManager(
		backends,
		cfg.Storage.FailoverTimeout(),
		cfg.Storage.UploadRetries,
		cfg.Storage.UploadRetryDelay(),
	)

	reporter := telemetry.NewErrorReporter(broker, cfg.Kafka.LogTopic, cfg.SensorID, cfg.Kafka.ErrorInterval())

	// The vision pipeline feeds these queues; the dispatcher drains them.
	events := make(chan *telemetry.Event, 64)
	analytics := make(chan map[string]any, 64)

	dispatcher := telemetry.NewDispatcher(
		broker, storage, reporter,
		events, analytics,
		cfg.Kafka.EventsTopic, cfg.Kafka.AnalyticsTopic,
	)

	// The vision pipeline feeds frames and installs its encoder; until
	// then events without video publish a null reference.
	clips := clip.NewRecorder(100, 20, nil)
	dispatcher.SetClipSource(clips)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Transient radar errors surface through the rate-limited log channel.
	engine.ErrorHook = func(message, details string) {
		reporter.Report(ctx, message, details)
	}

	var wg sync.WaitGroup

	// Radar ingestion loop. Joined before exit so the serial handle is not
	// closed under a live reader.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx, poller); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("radar ingestion terminated: %v", err)
		}
		log.Print("radar ingestion stopped")
	}()

	// Telemetry dispatch loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher terminated: %v", err)
		}
		log.Print("dispatcher stopped")
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}

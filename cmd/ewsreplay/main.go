package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ewsreplay/internal/api"
	"ewsreplay/internal/bus"
	"ewsreplay/internal/config"
	"ewsreplay/internal/engine"
	"ewsreplay/internal/ingest"
	"ewsreplay/internal/logging"
	"ewsreplay/internal/metrics"
	"ewsreplay/internal/model"
	"ewsreplay/internal/sink"
	"ewsreplay/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "config file path (yaml or json)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	manager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg := manager.Get()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting ewsreplay", "version", version, "config", manager.Path(), "charts", len(cfg.Charts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder *metrics.Recorder
	if cfg.Metrics.Prometheus {
		recorder = metrics.NewRecorder()
	}

	events := bus.New(cfg.Bus.SubscriberBuffer, logger)
	events.OnDrop(func(sub string, _ model.Event) {
		recorder.RecordDrop(sub)
	})
	defer events.Close()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage setup failed", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			logger.Error("storage init failed", "driver", cfg.Storage.Driver, "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	eng := engine.NewEngine(cfg, engine.Options{
		Logger:   logger,
		Bus:      events,
		Recorder: recorder,
		Store:    store,
	})
	defer eng.Close()

	submissions := make(chan model.Submission, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, submissions)
	ingest.StartFile(ctx, manager, submissions, logger)
	ingest.StartKafka(ctx, manager, submissions, logger)

	if cfg.Sink.Kafka.Enabled {
		producer, err := sink.NewKafka(cfg.Sink.Kafka, logger)
		if err != nil {
			logger.Error("kafka sink setup failed", "err", err)
			os.Exit(1)
		}
		producer.OnError(func(error) { recorder.RecordError("sink") })
		go producer.Run(ctx, events.Subscribe("kafka-sink", 0))
	}

	api.Start(ctx, api.Deps{
		Config:   manager,
		Engine:   eng,
		Bus:      events,
		Recorder: recorder,
		Store:    store,
		Logger:   logger,
		Version:  version,
	})

	go manager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "charts", len(next.Charts))
		eng.UpdateConfig(next)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down", "stopped_charts", eng.StopAll())
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/actions"
	"github.com/faultline/faultline/internal/allowlist"
	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/enricher"
	"github.com/faultline/faultline/internal/handler"
	"github.com/faultline/faultline/internal/notify"
	"github.com/faultline/faultline/internal/processor"
	"github.com/faultline/faultline/internal/producer"
	"github.com/faultline/faultline/internal/retention"
	"github.com/faultline/faultline/internal/sanitizer"
	"github.com/faultline/faultline/internal/storage"
	"github.com/faultline/faultline/internal/store"
	"github.com/faultline/faultline/internal/supervisor"
	"github.com/faultline/faultline/internal/tabstate"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/faultline.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Msg("Starting Faultline...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	kv, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to open storage")
	}
	defer kv.Close()
	log.Info().Str("backend", kv.Name()).Msg("Storage initialized")

	hub := notify.NewHub()
	storeOpts := []store.Option{store.WithNotifier(hub)}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		defer kafkaProducer.Close()
		storeOpts = append(storeOpts, store.WithNotifier(kafkaProducer))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka producer initialized")
	}

	eventStore := store.New(kv, cfg.Capture, storeOpts...)
	table := tabstate.NewTable(cfg.Capture.ActionBufferSize)
	retentionManager := retention.NewManager(table, eventStore, cfg.Capture)
	snapshots := actions.NewSnapshotter(kv)
	defer snapshots.Wait()

	proc := processor.New(processor.Deps{
		KV:        kv,
		Store:     eventStore,
		Table:     table,
		Retention: retentionManager,
		Snapshots: snapshots,
		AllowList: allowlist.New(kv, cfg.AllowList),
		Sanitizer: sanitizer.New(cfg.Sanitizer, sanitizer.DefaultPolicy()),
		Enricher:  enricher.NewEnricher(),
	}, cfg.Capture)

	router := handler.NewRouter(handler.NewHTTPHandler(proc), hub.ServeWS, cfg.RateLimit)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddDataService(eventStore)
	tree.AddDataService(retentionManager)
	tree.AddMessagingService(hub)
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor stopped")
	}

	eventStore.Stop()
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn().Int("services", len(report)).Msg("Services did not stop in time")
	}
	log.Info().Msg("Faultline stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensensor/lightNVR-sub006/internal/api"
	"github.com/opensensor/lightNVR-sub006/internal/config"
	"github.com/opensensor/lightNVR-sub006/internal/data"
	"github.com/opensensor/lightNVR-sub006/internal/events"
	"github.com/opensensor/lightNVR-sub006/internal/recording"
	"github.com/opensensor/lightNVR-sub006/internal/storage"
)

const serviceName = "lightnvr-motion"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] config load failed: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		log.Fatalf("[ERROR] cannot create storage root %s: %v", cfg.Storage.Path, err)
	}

	// Database
	db, err := data.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("[ERROR] database open failed: %v", err)
	}
	defer db.Close()
	log.Printf("[INFO] database ready at %s", cfg.Database.Path)

	recordings := data.RecordingModel{DB: db}
	motionConfigs := data.MotionConfigModel{DB: db}
	retention := data.RetentionModel{DB: db}
	sink := &data.RecordingSink{Recordings: recordings, Retention: retention}

	// NATS (optional; the engine runs standalone without a bus)
	var nc *nats.Conn
	var notifier *events.Publisher
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			log.Printf("[WARN] NATS connection failed: %v (continuing without event bus)", err)
			nc = nil
		} else {
			defer nc.Close()
			notifier = events.NewPublisher(nc, cfg.NATS.LifecycleSubject, 3)
			log.Printf("[INFO] NATS connected at %s", cfg.NATS.URL)
		}
	}

	// Recording engine
	engine := recording.NewEngine(recording.EngineConfig{
		StoragePath:   cfg.Storage.Path,
		MaxStreams:    cfg.Engine.MaxStreams,
		QueueCapacity: cfg.Engine.QueueCapacity,
		PoolMemoryMB:  cfg.Storage.PoolMemoryMB,
		GracePeriod:   cfg.Engine.GracePeriod(),
	}, recording.NewFileRecorder(), motionConfigs, sink, notifierOrNil(notifier))

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := engine.Start(startCtx); err != nil {
		startCancel()
		log.Fatalf("[ERROR] recording engine start failed: %v", err)
	}
	startCancel()

	// Retention sweeper
	sweeper := storage.NewSweeper(storage.SweeperConfig{
		StoragePath:       cfg.Storage.Path,
		SweepInterval:     cfg.Storage.SweepInterval(),
		HeartbeatInterval: cfg.Storage.HeartbeatInterval(),
	}, recordings, retention, evictionNotifierOrNil(notifier))
	sweeper.Start()

	// Motion event subscriber
	var subscriber *events.Subscriber
	if nc != nil {
		dedup := events.NewDedup(4096, 2*time.Second)
		subscriber = events.NewSubscriber(nc, cfg.NATS.MotionSubject, dedup, engine)
		if err := subscriber.Start(); err != nil {
			log.Printf("[WARN] motion subscriber failed to start: %v", err)
			subscriber = nil
		}
	}

	// Config hot-reload for runtime-tunable values
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(*configPath, func(next config.Config) {
		engine.Pool().SetLimitMB(next.Storage.PoolMemoryMB)
		log.Printf("[INFO] applied runtime config (pool: %d MB)", next.Storage.PoolMemoryMB)
	})
	watcher.Start(ctx)

	// HTTP surface
	handler := &api.Handler{
		Engine:    engine,
		Configs:   motionConfigs,
		Retention: retention,
		Sweeper:   sweeper,
	}
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler),
	}

	go func() {
		log.Printf("[INFO] HTTP server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR] HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[INFO] shutdown requested")

	// Stop intake first, then drain the engine, then the sweeper.
	if subscriber != nil {
		subscriber.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] graceful HTTP shutdown error: %v", err)
	}

	engine.Shutdown()
	sweeper.Stop()
	log.Printf("[INFO] server stopped gracefully")
}

// notifierOrNil avoids handing the engine a typed-nil interface value.
func notifierOrNil(p *events.Publisher) recording.Notifier {
	if p == nil {
		return nil
	}
	return p
}

func evictionNotifierOrNil(p *events.Publisher) storage.EvictionNotifier {
	if p == nil {
		return nil
	}
	return p
}

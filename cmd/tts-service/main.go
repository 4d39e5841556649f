// main package for the tts-gateway service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/api"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/auth"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/metrics"
	"github.com/book-expert/tts-gateway/internal/objectstore"
	"github.com/book-expert/tts-gateway/internal/server"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/book-expert/tts-gateway/internal/tts/audio"
	"github.com/book-expert/tts-gateway/internal/voices"
	"github.com/book-expert/tts-gateway/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	metricsNamespace = "tts_gateway"
	natsClientName   = "tts-gateway"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger %s: %w", fileName, err)
	}

	return log, nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path, log)
	}

	return config.Load(log)
}

func run(configPath string) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "tts-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration
	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to create directories: %v", err)

		return err
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires every component and blocks until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	collector := metrics.NewCollector(metricsNamespace)

	registry := voices.NewRegistry(cfg.RegistryPath(), log)
	registry.Load()

	store := artifacts.NewStore(cfg.Paths.OutputsDir, cfg.Paths.OutputsURLPrefix, log)

	delegate, err := tts.NewDelegate(cfg.Model, log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis delegate: %w", err)
	}

	engine := tts.NewEngine(delegate, tts.EngineOptions{
		MaxConcurrent: cfg.Model.MaxConcurrent,
		Timeout:       cfg.Model.SynthesisTimeout(),
		ProbeInterval: cfg.Model.ProbeInterval(),
	}, collector, log)

	orch := synthesis.New(engine, registry, store, audio.NewProber(), synthesis.OptionsFromConfig(cfg), collector, log)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return engine.Run(ctx)
	})

	if cfg.NATS.Enabled {
		natsConnection, natsErr := startPipeline(ctx, group, cfg, orch, log)
		if natsErr != nil {
			return natsErr
		}
		defer natsConnection.Close()
	}

	handler := api.NewRouter(ctx, api.OptionsFromConfig(cfg, version), orch, store, auth.NewGate(cfg.Auth), collector, log)
	apiServer := server.NewManager(handler, serverConfig("api", cfg.Addr(), cfg), log)

	group.Go(func() error {
		return apiServer.Run(ctx)
	})

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", collector.Handler())

		metricsServer := server.NewManager(mux, serverConfig("metrics", cfg.Server.MetricsAddr, cfg), log)

		group.Go(func() error {
			return metricsServer.Run(ctx)
		})
	}

	log.System("TTS gateway %s started on %s (backend %s, auth %t, nats %t)",
		version, cfg.Addr(), cfg.Model.Backend, cfg.Auth.Enabled, cfg.NATS.Enabled)

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("TTS gateway stopped.")

	return nil
}

// startPipeline connects to NATS, mirrors artifacts to the audio bucket, and
// starts the job worker in group.
func startPipeline(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	orch *synthesis.Orchestrator,
	log *logger.Logger,
) (*nats.Conn, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	textStore, err := objectstore.New(js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	orch.AddHook(worker.NewPublisher(natsConnection, audioStore, cfg.NATS.AudioChunkCreatedSubject, log))

	jobs := worker.NewNatsWorker(natsConnection, cfg.NATS.TextProcessedSubject, textStore, orch,
		worker.DefaultJobTimeout, log)

	group.Go(func() error {
		return jobs.Run(ctx)
	})

	log.Info("Connected to NATS at %s (audio bucket %s, text bucket %s)",
		cfg.NATS.URL, audioStore.Bucket(), textStore.Bucket())

	return natsConnection, nil
}

func serverConfig(name, addr string, cfg *config.Config) server.Config {
	sc := server.DefaultConfig()
	sc.Name = name
	sc.Addr = addr
	sc.ReadTimeout = cfg.Server.ReadTimeout()
	sc.WriteTimeout = cfg.Server.WriteTimeout()
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout()

	return sc
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file (defaults to the central configurator)")
	flag.Parse()

	err := run(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

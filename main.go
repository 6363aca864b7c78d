package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-kyc-orchestrator/flow"
	log "go-kyc-orchestrator/logging"
	"go-kyc-orchestrator/media"
	"go-kyc-orchestrator/metrics"
	redis "go-kyc-orchestrator/redis"
	"go-kyc-orchestrator/session"
	"go-kyc-orchestrator/verification"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}
	log.InitLoggerWithFormat(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)

	if err := run(config); err != nil {
		slog.Error("orchestrator stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(config Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := createSessionStore(&config)
	if err != nil {
		return fmt.Errorf("failed to instantiate session storage: %w", err)
	}

	device, err := createCameraDevice(config.Camera)
	if err != nil {
		return fmt.Errorf("failed to instantiate camera: %w", err)
	}
	camera := media.NewController(device,
		media.WithReadyTimeout(millis(config.Camera.ReadyTimeoutMs, media.DefaultReadyTimeout)),
		media.WithLogger(log.Component("camera")),
	)

	client, err := createVerificationClient(&config, m)
	if err != nil {
		return fmt.Errorf("failed to instantiate verification client: %w", err)
	}

	flowConfig, err := config.flowConfig()
	if err != nil {
		return err
	}
	orchestrator, err := flow.New(flowConfig, camera, client, store,
		flow.WithMetrics(m),
		flow.WithLogger(log.Component("flow")),
	)
	if err != nil {
		return fmt.Errorf("failed to instantiate orchestrator: %w", err)
	}
	defer orchestrator.Close()

	if err := orchestrator.Restart(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	serverState := ServerState{
		orchestrator:  orchestrator,
		metrics:       m,
		previewWidth:  config.PreviewWidth,
		previewHeight: config.PreviewHeight,
	}
	if serverState.previewWidth <= 0 && serverState.previewHeight <= 0 {
		serverState.previewWidth, serverState.previewHeight = 320, 240
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to listen and serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		orchestrator.CancelLiveness()
		return server.Stop(context.Background())
	})
	return g.Wait()
}

func createSessionStore(config *Config) (session.Store, error) {
	ttl := time.Duration(config.SessionTtlMinutes) * time.Minute
	if config.StorageType == "redis" {
		slog.Info("Using redis session storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client, config.RedisConfig.Namespace, ttl), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel session storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client, config.RedisSentinelConfig.Namespace, ttl), nil
	}
	if config.StorageType == "memory" || config.StorageType == "" {
		slog.Info("Using in memory session storage")
		return session.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

func createCameraDevice(config CameraConfig) (media.Device, error) {
	switch config.Driver {
	case "", "synthetic":
		slog.Info("Using synthetic camera")
		return &media.SyntheticDevice{MetadataDelay: millis(config.MetadataDelayMs, 0)}, nil
	case "directory":
		if config.Directory == "" {
			return nil, fmt.Errorf("directory camera needs a directory")
		}
		slog.Info("Using directory camera", "directory", config.Directory)
		return &media.DirectoryDevice{Dir: config.Directory}, nil
	default:
		return nil, fmt.Errorf("%v is not a valid camera driver", config.Driver)
	}
}

func createVerificationClient(config *Config, m *metrics.Metrics) (*verification.Client, error) {
	if config.ApiBaseUrl == "" {
		return nil, fmt.Errorf("api_base_url is required")
	}
	opts := []verification.Option{verification.WithMetrics(m)}
	if config.RequestTimeoutSeconds > 0 {
		opts = append(opts, verification.WithTimeout(time.Duration(config.RequestTimeoutSeconds)*time.Second))
	}
	if config.MerchantKeyPath != "" {
		signer, err := verification.NewMerchantSigner(config.MerchantKeyPath, config.MerchantId)
		if err != nil {
			return nil, err
		}
		opts = append(opts, verification.WithSigner(signer))
	}
	return verification.NewClient(config.ApiBaseUrl, config.MerchantId, opts...), nil
}

// Package bootstrap provides dependency initialization for the img2video CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/img2video/internal/config"
	"github.com/maauso/img2video/internal/genapi"
	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/poller"
	"github.com/maauso/img2video/internal/storage"
)

// Dependencies holds all initialized dependencies for the CLI commands.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Client   *genapi.HTTPClient
	Identity genapi.Identity
	Storage  storage.Storage
	Archiver *storage.Archiver
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := genapi.ParseEnvironment(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	client, err := genapi.NewClient(
		cfg.BaseURL,
		genapi.Routing{ProjectID: cfg.ProjectID, ProductID: cfg.ProductID},
		genapi.WithEnvironment(env),
		genapi.WithNeedWait(cfg.NeedWait),
		genapi.WithTimeout(cfg.HTTPTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Client:   client,
		Identity: genapi.Identity{UserID: cfg.UserID, Email: cfg.UserEmail},
		Storage:  store,
		Archiver: storage.NewArchiver(client, store, logger),
	}, nil
}

// NewOrchestrator creates an orchestrator using the configured client,
// identity and polling settings. Extra options are applied last.
func (d *Dependencies) NewOrchestrator(sink poller.ResultSink, opts ...poller.Option) *poller.Orchestrator {
	base := []poller.Option{
		poller.WithMaxAttempts(d.Config.PollMaxAttempts),
		poller.WithPollInterval(d.Config.PollInterval),
		poller.WithBalanceSink(LogBalance(d.Logger)),
		poller.WithLogger(d.Logger),
	}
	return poller.New(d.Client, sink, d.Identity, append(base, opts...)...)
}

// NewImageBuffer creates an empty image buffer with the configured capacity
// and size ceiling.
func (d *Dependencies) NewImageBuffer() *imagebuf.Buffer {
	return imagebuf.New(d.Config.ImageSlots, imagebuf.WithMaxImageBytes(int(d.Config.MaxImageBytes)))
}

// LogBalance returns a balance sink that records refreshes in the log.
func LogBalance(logger *slog.Logger) poller.BalanceSink {
	return poller.BalanceFunc(func(ctx context.Context, balance float64) error {
		logger.InfoContext(ctx, "credit balance updated", slog.Float64("balance", balance))
		return nil
	})
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.ArchiveDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Debug("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Debug("local storage configured",
		slog.String("archive_dir", localStore.Dir()),
	)
	return localStore, nil
}

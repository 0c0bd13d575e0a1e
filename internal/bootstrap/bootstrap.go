// Package bootstrap provides dependency initialization for ffanime.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/ffanime/internal/config"
	"github.com/maauso/ffanime/internal/job"
	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/pool"
	"github.com/maauso/ffanime/internal/storage"
	"github.com/maauso/ffanime/internal/workspace"
)

// Dependencies holds all initialized dependencies shared by the server and
// the CLI.
type Dependencies struct {
	Composer  *job.Composer
	Pool      *pool.Pool
	Router    *storage.Router
	Publisher *storage.Publisher
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	router, s3Backend, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var pubOpts []storage.PublisherOption
	if s3Backend != nil && cfg.S3Bucket != "" {
		pubOpts = append(pubOpts, storage.WithUploader(s3Backend))
	}
	publisher, err := storage.NewPublisher(cfg.PublisherConfig(), pubOpts...)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	mediaCfg, err := cfg.MediaConfig()
	if err != nil {
		return nil, fmt.Errorf("media config: %w", err)
	}
	processor, err := media.NewFFmpegProcessor(mediaCfg, media.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create media processor: %w", err)
	}

	workers := pool.New(cfg.Workers)
	logger.Info("worker pool configured", slog.Int("workers", workers.Size()))

	composer := job.NewComposer(
		job.Dependencies{
			Processor:  processor,
			Fetcher:    router,
			Publisher:  publisher,
			Workspaces: workspaces,
			Pool:       workers,
			Repository: job.NewMemoryRepository(cfg.JobRetention),
		},
		logger,
		job.WithClipSeconds(cfg.DefaultClipSec),
		job.WithTimeout(cfg.JobTimeout),
	)

	return &Dependencies{
		Composer:  composer,
		Pool:      workers,
		Router:    router,
		Publisher: publisher,
	}, nil
}

// initStorage registers a backend for every supported scheme. The S3 backend
// is returned separately so it can double as the publish uploader.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Router, *storage.S3Backend, error) {
	router := storage.NewRouter()
	router.Register(storage.NewLocalBackend(), "file")
	router.Register(storage.NewHTTPBackend(), "http", "https")
	router.Register(storage.NewFTPBackend(storage.Credentials{
		User:     cfg.FTPUser,
		Password: cfg.FTPPassword,
	}), "ftp")

	sftpBackend, err := storage.NewSFTPBackend(storage.Credentials{
		User:     cfg.SFTPUser,
		Password: cfg.SFTPPassword,
	}, cfg.SFTPKnownHosts)
	if err != nil {
		return nil, nil, fmt.Errorf("create SFTP backend: %w", err)
	}
	router.Register(sftpBackend, "sftp")

	var s3Backend *storage.S3Backend
	if cfg.S3Enabled() {
		s3Backend, err = storage.NewS3Backend(ctx, cfg.S3Config())
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 backend: %w", err)
		}
		router.Register(s3Backend, "s3")
		logger.Info("S3 storage configured",
			slog.String("provider", cfg.S3Provider),
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	}

	logger.Info("storage backends configured", slog.Any("schemes", router.Schemes()))
	return router, s3Backend, nil
}

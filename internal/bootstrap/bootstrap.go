// Package bootstrap provides dependency initialization shared by the API
// server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"

	"github.com/invidias-codem/ai-saas/internal/config"
	"github.com/invidias-codem/ai-saas/internal/generator"
	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/metrics"
	"github.com/invidias-codem/ai-saas/internal/orchestrator"
	"github.com/invidias-codem/ai-saas/internal/poller"
	"github.com/invidias-codem/ai-saas/internal/replicate"
	"github.com/invidias-codem/ai-saas/internal/resolver"
	"github.com/invidias-codem/ai-saas/internal/storage"
	"github.com/invidias-codem/ai-saas/internal/vertex"
)

// Dependencies holds all initialized dependencies.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Generators   *generator.Registry
	Repository   job.Repository
	Metrics      *metrics.Collector
	Registry     *prometheus.Registry

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	policies, err := cfg.Policies()
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Repository: job.NewMemoryRepository(),
		Registry:   metrics.NewRegistry(),
	}
	deps.Metrics = metrics.NewCollector(deps.Registry)

	// Initialize provider adapters
	deps.Generators, err = initGenerators(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize signers for storage references
	signers, err := deps.initSigners(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	res := resolver.New(
		resolver.WithSigner(signers),
		resolver.WithTTL(cfg.SignedURLTTL),
		resolver.WithConcurrency(cfg.ResolveConcurrency),
		resolver.WithLogger(logger),
	)

	p := poller.New(deps.Generators,
		poller.WithLogger(logger),
		poller.WithObserver(deps.Metrics),
	)

	deps.Orchestrator = orchestrator.New(deps.Generators, p, res,
		orchestrator.WithRepository(deps.Repository),
		orchestrator.WithPolicies(policies),
		orchestrator.WithLogger(logger),
		orchestrator.WithRecorder(deps.Metrics),
		orchestrator.WithCancelUpstream(cfg.CancelUpstream),
	)

	return deps, nil
}

// Close tears down every session and releases provider clients.
func (d *Dependencies) Close() error {
	if d.Orchestrator != nil {
		d.Orchestrator.Close()
	}
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// initGenerators registers one adapter per configured provider.
func initGenerators(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*generator.Registry, error) {
	reg := generator.NewRegistry()

	if cfg.ReplicateEnabled() {
		client, err := replicate.NewClient(replicate.WithAPIToken(cfg.ReplicateAPIToken))
		if err != nil {
			return nil, fmt.Errorf("create Replicate client: %w", err)
		}

		var opts []generator.ReplicateOption
		if cfg.ReplicateImageModel != "" {
			opts = append(opts, generator.WithImageModel(cfg.ReplicateImageModel))
		}
		if cfg.ReplicateMusicModel != "" {
			opts = append(opts, generator.WithMusicModel(cfg.ReplicateMusicModel))
		}
		adapter := generator.NewReplicateAdapter(client, opts...)
		reg.Register(job.ModalityImage, adapter)
		reg.Register(job.ModalityMusic, adapter)
		logger.Info("Replicate provider configured")
	}

	if cfg.VertexEnabled() {
		client, err := vertex.NewClient(ctx, cfg.GoogleProjectID, vertex.WithLocation(cfg.GoogleLocation))
		if err != nil {
			return nil, fmt.Errorf("create Vertex AI client: %w", err)
		}

		var opts []generator.VertexOption
		if cfg.VeoModel != "" {
			opts = append(opts, generator.WithVideoModel(cfg.VeoModel))
		}
		if cfg.VideoOutputURI != "" {
			opts = append(opts, generator.WithOutputURI(cfg.VideoOutputURI))
		}
		reg.Register(job.ModalityVideo, generator.NewVertexAdapter(client, opts...))
		logger.Info("Vertex AI provider configured",
			slog.String("project_id", cfg.GoogleProjectID),
			slog.String("location", cfg.GoogleLocation),
		)
	}

	return reg, nil
}

// initSigners creates a signer per configured storage scheme.
func (d *Dependencies) initSigners(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Mux, error) {
	mux := storage.NewMux()

	if gcsCfg, opts, ok := gcsSignerSetup(cfg); ok {
		signer, err := storage.NewGCSSigner(ctx, gcsCfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("create GCS signer: %w", err)
		}
		d.closers = append(d.closers, signer.Close)
		mux.Register("gs", signer)
		if gcsCfg.GoogleAccessID != "" {
			logger.Info("GCS signer configured", slog.String("access_id", gcsCfg.GoogleAccessID))
		} else {
			logger.Info("GCS signer configured from ambient credentials")
		}
	}

	if cfg.S3Enabled() {
		signer, err := storage.NewS3Signer(ctx, storage.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 signer: %w", err)
		}
		mux.Register("s3", signer)
		logger.Info("S3 signer configured", slog.String("region", cfg.S3Region))
	}

	return mux, nil
}

// gcsSignerSetup selects how gs:// references are signed. An explicit key pair
// signs locally and needs no authenticated client. Otherwise the client uses
// ambient credentials and signs through the IAM SignBlob API.
func gcsSignerSetup(cfg *config.Config) (storage.GCSConfig, []option.ClientOption, bool) {
	switch {
	case cfg.GCSSignerEnabled():
		return storage.GCSConfig{
			GoogleAccessID: cfg.GCSSignerEmail,
			PrivateKey:     []byte(cfg.GCSSignerKey),
		}, []option.ClientOption{option.WithoutAuthentication()}, true
	case cfg.GCSAmbientSigning():
		return storage.GCSConfig{}, nil, true
	default:
		return storage.GCSConfig{}, nil, false
	}
}

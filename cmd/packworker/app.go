package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chapterbridge/packworker/internal/characters"
	"github.com/chapterbridge/packworker/internal/config"
	"github.com/chapterbridge/packworker/internal/content"
	"github.com/chapterbridge/packworker/internal/inference"
	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/nlppack"
	"github.com/chapterbridge/packworker/internal/pipeline"
	"github.com/chapterbridge/packworker/internal/retry"
)

// app holds the wired dependencies shared by the worker commands.
type app struct {
	manager *config.Manager
	cfg     *config.Config
	logger  *slog.Logger
	store   *ledger.Store
	objects content.Store
}

// newApp loads configuration and connects the ledger and content store.
func newApp() (*app, error) {
	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := manager.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	store, err := ledger.Open(cfg.Ledger.Driver, config.ResolveEnvVars(cfg.Ledger.DSN))
	if err != nil {
		return nil, err
	}

	objects, err := newContentStore(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		store:   store,
		objects: objects,
	}, nil
}

func newContentStore(cfg *config.Config) (content.Store, error) {
	switch cfg.Content.Backend {
	case "s3", "":
		return content.NewS3Store(content.S3Config{
			Endpoint:  config.ResolveEnvVars(cfg.Content.Endpoint),
			Bucket:    cfg.Content.Bucket,
			AccessKey: config.ResolveEnvVars(cfg.Content.AccessKey),
			SecretKey: config.ResolveEnvVars(cfg.Content.SecretKey),
			UseSSL:    cfg.Content.UseSSL,
		})
	case "fs":
		return content.NewFSStore(cfg.Content.Dir)
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.Content.Backend)
	}
}

func (a *app) Close() {
	_ = a.store.Close()
}

func (a *app) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if a.cfg.Retry.Attempts > 0 {
		p.Attempts = uint(a.cfg.Retry.Attempts)
	}
	if a.cfg.Retry.BaseDelaySeconds > 0 {
		p.BaseDelay = time.Duration(a.cfg.Retry.BaseDelaySeconds) * time.Second
	}
	if a.cfg.Retry.MaxDelaySeconds > 0 {
		p.MaxDelay = time.Duration(a.cfg.Retry.MaxDelaySeconds) * time.Second
	}
	return p
}

// newExecutor builds the full inference + pipeline stack.
func (a *app) newExecutor(dryRun bool) (*pipeline.Executor, error) {
	inf := a.cfg.Inference
	client := inference.NewVLLMClient(inference.Config{
		BaseURL:           inf.BaseURL,
		APIKey:            config.ResolveEnvVars(inf.APIKey),
		Model:             inf.Model,
		ModelVersion:      inf.ModelVersion,
		Timeout:           inf.Timeout(),
		RequestsPerMinute: inf.RequestsPerMinute,
		Logger:            a.logger,
	})

	validator, err := nlppack.NewValidator(nlppack.ValidatorConfig{
		Client:      client,
		Policy:      a.retryPolicy(),
		Logger:      a.logger,
		MaxTokens:   inf.MaxTokens,
		Temperature: inf.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		Ledger:       a.store,
		Content:      a.objects,
		Validator:    validator,
		Merger:       characters.NewMerger(a.store, inf.ModelVersion, a.logger),
		Policy:       a.retryPolicy(),
		Logger:       a.logger,
		Bucket:       a.cfg.Content.Bucket,
		ModelVersion: inf.ModelVersion,
		DryRun:       dryRun,
	}), nil
}

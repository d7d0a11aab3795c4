package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"imagetool/internal/config"
	"imagetool/internal/domain"
	"imagetool/internal/imagemage"
	"imagetool/internal/journal"
	"imagetool/internal/retry"
	"imagetool/internal/tooling"
)

// newCommandRunner supplies the process runner; nil selects os/exec. Tests
// replace it to stand in for imagemage.
var newCommandRunner = func() imagemage.CommandRunner { return nil }

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg      *domain.Config
	logger   *slog.Logger
	pipeline *imagemage.Pipeline
	registry *tooling.ToolRegistry
	journal  *journal.Store // nil when journal.url is empty
}

// close releases the journal connection.
func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("journal close failed", "error", err)
		}
	}
}

// loadApp loads the config at path (defaults when absent) and wires the pipeline.
// Callers must close the returned app.
func loadApp(ctx context.Context, path string, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, config.NewLogger(cfg.Infra, logOut))
}

func newApp(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (*app, error) {
	im := cfg.Imagemage
	downloader := imagemage.NewHTTPDownloader(
		imagemage.WithDownloadTimeout(seconds(im.DownloadTimeoutSec)),
		imagemage.WithMaxDownloadBytes(im.MaxDownloadBytes),
		imagemage.WithTempDir(im.TempDir),
		imagemage.WithDownloaderLogger(logger),
	)
	resolver := imagemage.NewResolver(retry.NewDownloader(downloader, retry.FromDomain(im.DownloadRetry), logger))
	invoker := imagemage.NewInvoker(newCommandRunner(),
		imagemage.WithBinary(im.Binary),
		imagemage.WithProcessTimeout(seconds(im.ProcessTimeoutSec)),
		imagemage.WithInvokerLogger(logger),
	)
	pipeline := imagemage.NewPipeline(resolver, invoker,
		imagemage.WithLogger(logger),
		imagemage.WithOutputDir(im.OutputDir),
		imagemage.WithAutoOpen(im.AutoOpen),
		imagemage.WithDefaultModel(im.DefaultModel),
	)

	a := &app{cfg: cfg, logger: logger, pipeline: pipeline}
	var runner tooling.ImagePipeline = pipeline
	if cfg.Journal.URL != "" {
		store, err := journal.Open(ctx, cfg.Journal.URL)
		if err != nil {
			return nil, err
		}
		a.journal = store
		runner = journal.NewRecorder(pipeline, store, logger)
	}

	a.registry = tooling.NewToolRegistry()
	if err := a.registry.Register(tooling.NewImageGenTool(tooling.NewSerializedPipeline(runner, nil))); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

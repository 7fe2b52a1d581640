package main

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-docfill/internal/config"
	"github.com/a3tai/mcp-docfill/internal/docfill"
	"github.com/a3tai/mcp-docfill/internal/docfill/persist"
	"github.com/a3tai/mcp-docfill/internal/docfill/render"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
	"github.com/a3tai/mcp-docfill/internal/docfill/value"
	"github.com/a3tai/mcp-docfill/internal/logger"
	"github.com/a3tai/mcp-docfill/internal/metrics"
	"github.com/a3tai/mcp-docfill/internal/templates"
)

// app is the wired service graph shared by the commands
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   store.Store
	service *docfill.Service
	library *templates.Library

	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if version != "dev" {
		cfg.Version = version
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log, metrics: metrics.New()}
	if cfg.IsDebug() {
		log.Debug("starting with configuration", zap.String("config", cfg.String()))
	}

	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	a.store = s
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	rasterizer, err := newRasterizer(cfg, a.logger)
	if err != nil {
		return err
	}
	pipeline := render.NewPipeline(rasterizer, a.logger,
		render.WithStageObserver(a.metrics.ObserveStage),
		render.WithValidator(render.NewValidator(cfg.MaxFileSize)))

	osFs := afero.NewOsFs()
	coordinator := persist.NewCoordinator(s, persist.NewDirFallback(osFs, cfg.OutputDir), persist.Options{
		FilePrefix:    cfg.FilePrefix,
		VerifyDelay:   cfg.VerifyDelay,
		DisableVerify: !cfg.Verify,
	}, a.logger)

	loc, err := cfg.Location()
	if err != nil {
		_ = pipeline.Close()
		return err
	}
	a.service = docfill.NewService(s, pipeline, coordinator,
		value.NewNormalizer(value.WithLocation(loc)), a.metrics, a.logger)
	a.closers = append(a.closers, a.service.Close)

	a.library, err = templates.NewLibrary(osFs, cfg.TemplateDir, cfg.MaxFileSize)
	return err
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		if cfg.StorePath == "" {
			return store.NewMemoryStore(nil), nil, nil
		}
		fixture, err := store.LoadFixture(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return store.NewMemoryStore(fixture), nil, nil
	}
}

func newRasterizer(cfg *config.Config, log *zap.Logger) (render.Rasterizer, error) {
	if cfg.Renderer == config.RendererBrowser {
		return render.NewBrowserRasterizer(render.BrowserOptions{
			ViewportWidth: cfg.ViewportWidth,
			SettleTimeout: cfg.SettleDelay,
			ChromeBin:     cfg.ChromeBin,
		}, log), nil
	}
	r, err := render.NewNativeRasterizer(render.NativeOptions{
		ViewportWidth: cfg.ViewportWidth,
		SettleTimeout: cfg.SettleDelay,
		FontPath:      cfg.FontPath,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create native renderer: %w", err)
	}
	return r, nil
}

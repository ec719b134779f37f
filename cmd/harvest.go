package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-qa-harvester/internal/api"
	"github.com/JakeFAU/forum-qa-harvester/internal/config"
	"github.com/JakeFAU/forum-qa-harvester/internal/dedup"
	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
	"github.com/JakeFAU/forum-qa-harvester/internal/harvest"
	"github.com/JakeFAU/forum-qa-harvester/internal/logging"
	"github.com/JakeFAU/forum-qa-harvester/internal/sink"
	"github.com/JakeFAU/forum-qa-harvester/internal/transport"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs one full crawl
// over the configured page range.
func newHarvestCmd() *cobra.Command {
	var (
		pagesOverride int
		outputPath    string
	)

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one crawl over the forum's listing pages",
		Long: `Probes the forum for its page count (or uses --pages), then crawls the
listing pages in chunks, fetching the detail page of every newly listed
answered thread and appending the records to the output artifact.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), pagesOverride, outputPath)
		},
	}

	cmd.Flags().IntVar(&pagesOverride, "pages", 0, "explicit total page count (skips the rendered probe)")
	cmd.Flags().StringVar(&outputPath, "output", "", "output artifact path (overrides config)")
	return cmd
}

func runHarvest(parent context.Context, pagesOverride int, outputPath string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if pagesOverride > 0 {
		cfg.Harvest.TotalPagesOverride = pagesOverride
	}
	if outputPath != "" {
		cfg.Harvest.OutputPath = outputPath
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.API.Addr != "" {
		ops := api.NewServer(cfg.API.Addr, logger)
		ops.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown failed", zap.Error(err))
			}
		}()
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("harvest canceled", zap.String("run_id", summary.RunID))
			return nil
		}
		return fmt.Errorf("run harvest: %w", err)
	}
	return nil
}

func buildOrchestrator(cfg config.Config, logger *zap.Logger) (*harvest.Orchestrator, func(), error) {
	fetcher := transport.NewFetcher(transport.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		DelayMin:  cfg.HTTP.DelayMin,
		DelayMax:  cfg.HTTP.DelayMax,
		MaxRPS:    cfg.HTTP.MaxRPS,
	}, logger)

	cleanup := func() {}
	var prober harvest.Prober
	// The probe only matters when no explicit page count is configured, so
	// a browser is launched only in that case.
	if cfg.Harvest.TotalPagesOverride == 0 && cfg.Render.Enabled {
		renderer, err := transport.NewRenderer(transport.RenderConfig{
			Enabled:   true,
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.Render.Timeout,
		}, logger)
		switch {
		case err == nil:
			prober = renderer
			cleanup = renderer.Close
		case errors.Is(err, transport.ErrRenderDisabled):
		default:
			logger.Warn("headless renderer unavailable, probe disabled", zap.Error(err))
		}
	}

	seen, err := dedup.Load(cfg.Harvest.PriorDir, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load seen set: %w", err)
	}

	artifactSink, err := sink.New(cfg.Harvest.OutputPath, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init sink: %w", err)
	}

	orch, err := harvest.New(
		harvest.Config{
			Site: forum.Site{
				BaseURL:   cfg.Forum.BaseURL,
				PageParam: cfg.Forum.PageParam,
			},
			ChunkSize:          cfg.Harvest.ChunkSize,
			TotalPagesOverride: cfg.Harvest.TotalPagesOverride,
			ListingConcurrency: cfg.Harvest.ListingConcurrency,
			DetailConcurrency:  cfg.Harvest.DetailConcurrency,
			CheckpointChunks:   cfg.Harvest.CheckpointChunks,
		},
		fetcher,
		prober,
		seen,
		artifactSink,
		logger,
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, cleanup, nil
}

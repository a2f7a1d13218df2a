package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/colors"
	"github.com/maltedev/catalog-sync/internal/config"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/export"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/refstore"
	"github.com/maltedev/catalog-sync/internal/scraper"
	"github.com/maltedev/catalog-sync/internal/sitecfg"
	"github.com/maltedev/catalog-sync/internal/staging"
	"github.com/maltedev/catalog-sync/internal/uploader"
)

func main() {
	var (
		siteName = flag.String("site", "spot", "Built-in site to scrape (spot, xbz)")
		siteFile = flag.String("site-file", "", "JSON site definition, overrides -site")
		dryRun   = flag.Bool("dry-run", false, "Scrape and export only, no uploads")
		maxProds = flag.Int("max", 0, "Cap the number of products this run")
		headless = flag.Bool("headless", true, "Run the browser headless")
	)
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logging)
	logger := slog.Default()

	if !*dryRun {
		if err := cfg.Validate(); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	site, err := resolveSite(*siteName, *siteFile)
	if err != nil {
		logger.Error("failed to resolve site", "error", err)
		os.Exit(1)
	}

	stager, err := newStager(cfg)
	if err != nil {
		logger.Error("failed to set up staging", "error", err)
		os.Exit(1)
	}

	records, err := scrapeSite(ctx, cfg, site, stager, *headless, *maxProds)
	if err != nil {
		logger.Error("scrape failed", "site", site.Name, "error", err)
		os.Exit(1)
	}
	logger.Info("scrape finished", "site", site.Name, "products", len(records))

	exporter, err := export.NewExporter(cfg.Export.Dir)
	if err != nil {
		logger.Error("failed to set up export dir", "error", err)
		os.Exit(1)
	}
	productsFile := fmt.Sprintf("%s_produtos_%s.json", site.Name, time.Now().Format("20060102_150405"))
	if path, err := exporter.WriteProducts(records, productsFile); err != nil {
		logger.Error("failed to export products", "error", err)
	} else {
		logger.Info("products exported", "path", path)
	}

	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo = database.NewRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		if err := repo.SaveProducts(ctx, records); err != nil {
			logger.Error("failed to persist products", "error", err)
		}
	}

	if *dryRun {
		logger.Info("dry run, skipping upload")
		return
	}

	runUpload(ctx, cfg, records, exporter, repo, site.Name)
}

func resolveSite(name, file string) (*sitecfg.Site, error) {
	if file != "" {
		return sitecfg.LoadFile(file)
	}
	return sitecfg.Lookup(name)
}

func newStager(cfg *config.Config) (*staging.Stager, error) {
	opts := staging.DefaultOptions()
	if cfg.Staging.Dir != "" {
		opts.Dir = cfg.Staging.Dir
	}
	opts.DownloadTimeout = cfg.Staging.DownloadTimeout
	opts.MaxRetries = cfg.Staging.MaxRetries
	return staging.NewStager(opts)
}

func scrapeSite(ctx context.Context, cfg *config.Config, site *sitecfg.Site, stager *staging.Stager, headless bool, maxProducts int) ([]*models.ProductRecord, error) {
	browserOpts := &browser.Options{
		Headless:       headless && cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
		ProxyServer:    cfg.Browser.ProxyServer,
		ExtraHeaders:   browser.DefaultOptions().ExtraHeaders,
	}
	browserOpts.UserAgent = browser.DefaultOptions().UserAgent
	if len(cfg.API.UserAgents) > 0 {
		browserOpts.UserAgent = cfg.API.UserAgents[0]
	}

	b, err := browser.New(browserOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer b.Close()

	scraperOpts := scraper.DefaultOptions()
	scraperOpts.DelayMin = cfg.Scraper.DelayMin
	scraperOpts.DelayMax = cfg.Scraper.DelayMax
	scraperOpts.NavRetries = cfg.Scraper.NavRetries
	scraperOpts.MaxScrolls = cfg.Scraper.MaxScrolls
	scraperOpts.MaxProducts = cfg.Scraper.MaxProducts
	if maxProducts > 0 {
		scraperOpts.MaxProducts = maxProducts
	}

	s, err := scraper.New(b, site, colors.NewNormalizer(stager), scraperOpts)
	if err != nil {
		return nil, err
	}
	return s.ScrapeCatalog(ctx)
}

func runUpload(ctx context.Context, cfg *config.Config, records []*models.ProductRecord, exporter *export.Exporter, repo *database.Repository, siteName string) {
	logger := slog.Default()

	stager, err := newStager(cfg)
	if err != nil {
		logger.Error("failed to set up staging", "error", err)
		os.Exit(1)
	}

	client := api.NewClient(&api.Config{
		BaseURL:            strings.TrimRight(cfg.API.BaseURL, "/"),
		Username:           cfg.API.Username,
		Password:           cfg.API.Password,
		Timeout:            cfg.API.Timeout,
		UploadTimeout:      cfg.API.UploadTimeout,
		InitialImageBudget: cfg.API.InitialImageBudget,
		RequestsPerMinute:  cfg.API.RequestsPerMinute,
		Identities:         cfg.API.UserAgents,
	}, stager)

	if err := client.TestConnection(ctx); err != nil {
		logger.Error("api unreachable", "error", err)
		os.Exit(1)
	}

	deferredOpts := api.DefaultDeferredOptions()
	deferredOpts.BatchSize = cfg.Deferred.BatchSize
	deferredOpts.DelayBase = cfg.Deferred.DelayBase
	deferredOpts.DelayJitter = cfg.Deferred.DelayJitter
	deferrer := api.NewDeferredProcessor(client, deferredOpts)

	orch := uploader.NewOrchestrator(client, deferrer, cfg.Deferred.BatchSize)

	schedOpts := uploader.DefaultOptions()
	schedOpts.BatchSize = cfg.Uploader.BatchSize
	schedOpts.MaxAttempts = cfg.Uploader.MaxAttempts
	schedOpts.RetryBase = cfg.Uploader.RetryBase
	schedOpts.RetryMax = cfg.Uploader.RetryMax
	schedOpts.RateLimitCooldown = cfg.Uploader.RateLimitCooldown
	schedOpts.ProductDelayMin = cfg.Uploader.ProductDelayMin
	schedOpts.ProductDelayMax = cfg.Uploader.ProductDelayMax
	schedOpts.BatchDelayMin = cfg.Uploader.BatchDelayMin
	schedOpts.BatchDelayMax = cfg.Uploader.BatchDelayMax
	schedOpts.SkipKnown = cfg.Uploader.SkipKnown

	sched := uploader.NewScheduler(orch, client.Session(), schedOpts)

	if cfg.Uploader.SkipKnown {
		refs, err := newRefStore(ctx, cfg)
		if err != nil {
			logger.Warn("reference store unavailable, continuing without skip", "error", err)
		} else {
			defer refs.Close()
			sched.UseKnownRefs(refs)
		}
	}
	if repo != nil {
		sched.UseRecorder(repo)
	}

	summary := sched.RunAll(ctx, records)
	deferred := orch.WaitDeferred()

	logger.Info("upload finished", "total", summary.Total, "success", summary.Success,
		"errors", summary.Errors, "skipped", summary.Skipped,
		"deferred_images", deferred.Total, "deferred_errors", deferred.Errors)

	stamp := time.Now().Format("20060102_150405")
	if _, err := exporter.WriteReport(&summary, fmt.Sprintf("%s_relatorio_%s.csv", siteName, stamp)); err != nil {
		logger.Error("failed to export report", "error", err)
	}
	deferredCounts := map[string]int{
		"processed": deferred.Processed,
		"errors":    deferred.Errors,
		"total":     deferred.Total,
	}
	if _, err := exporter.WriteSummary(siteName, &summary, deferredCounts, fmt.Sprintf("%s_resumo_%s.json", siteName, stamp)); err != nil {
		logger.Error("failed to export summary", "error", err)
	}
}

func newRefStore(ctx context.Context, cfg *config.Config) (refstore.Store, error) {
	if cfg.Redis.Enabled {
		return refstore.NewRedisStore(ctx, refstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
	}
	return refstore.NewMemoryStore(cfg.Redis.TTL), nil
}

func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// Command uploader pushes a previously exported products file to the remote
// API, without touching the browser. Useful for retrying a failed run or for
// uploading hand-edited records.
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
	"github.com/maltedev/catalog-sync/internal/config"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/export"
	"github.com/maltedev/catalog-sync/internal/refstore"
	"github.com/maltedev/catalog-sync/internal/staging"
	"github.com/maltedev/catalog-sync/internal/uploader"
)

func main() {
	var (
		inputFile = flag.String("file", "", "Products JSON file to upload (required)")
		checkOnly = flag.Bool("check", false, "Validate the file and test the API connection, upload nothing")
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

	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	records, err := export.ReadProducts(*inputFile)
	if err != nil {
		logger.Error("failed to read products file", "error", err)
		os.Exit(1)
	}
	logger.Info("products loaded", "file", *inputFile, "count", len(records))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	stagingOpts := staging.DefaultOptions()
	if cfg.Staging.Dir != "" {
		stagingOpts.Dir = cfg.Staging.Dir
	}
	stagingOpts.DownloadTimeout = cfg.Staging.DownloadTimeout
	stagingOpts.MaxRetries = cfg.Staging.MaxRetries

	stager, err := staging.NewStager(stagingOpts)
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

	if *checkOnly {
		invalid := 0
		for _, rec := range records {
			if missing := rec.Validate(); len(missing) > 0 {
				logger.Warn("record would be rejected", "reference", rec.Reference,
					"missing", strings.Join(missing, ", "))
				invalid++
			}
		}
		logger.Info("check finished", "records", len(records), "invalid", invalid)
		return
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
		if refs, err := buildRefStore(ctx, cfg); err != nil {
			logger.Warn("reference store unavailable, continuing without skip", "error", err)
		} else {
			defer refs.Close()
			sched.UseKnownRefs(refs)
		}
	}

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

		repo := database.NewRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		sched.UseRecorder(repo)
	}

	summary := sched.RunAll(ctx, records)
	deferred := orch.WaitDeferred()

	logger.Info("upload finished", "total", summary.Total, "success", summary.Success,
		"errors", summary.Errors, "skipped", summary.Skipped,
		"deferred_images", deferred.Total, "deferred_errors", deferred.Errors)

	exporter, err := export.NewExporter(cfg.Export.Dir)
	if err != nil {
		logger.Error("failed to set up export dir", "error", err)
		return
	}
	stamp := time.Now().Format("20060102_150405")
	if _, err := exporter.WriteReport(&summary, "upload_relatorio_"+stamp+".csv"); err != nil {
		logger.Error("failed to export report", "error", err)
	}
	deferredCounts := map[string]int{
		"processed": deferred.Processed,
		"errors":    deferred.Errors,
		"total":     deferred.Total,
	}
	if _, err := exporter.WriteSummary("", &summary, deferredCounts, "upload_resumo_"+stamp+".json"); err != nil {
		logger.Error("failed to export summary", "error", err)
	}
}

func buildRefStore(ctx context.Context, cfg *config.Config) (refstore.Store, error) {
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

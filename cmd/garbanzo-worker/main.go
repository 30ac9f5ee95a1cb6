package main

import (
	"context"
	"os"
	"time"

	"garbanzo/internal/backend"
	"garbanzo/internal/cli"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
	"garbanzo/internal/sheets"
	gsheet "garbanzo/internal/sheets/google"
	"garbanzo/internal/sheets/memory"
	"garbanzo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting garbanzo-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	// The worker only reads stored snapshots, whatever backend the server uses.
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	backendCfg.Type = backend.SQLiteBackend
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	var writer sheets.TableWriter
	target := "memory"
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetPrefix:     cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer, target = client, "sheets"
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = memory.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, exporting to memory")
	}

	exportCfg := services.DefaultExportConfig()
	exportCfg.Target = target
	exportCfg.Interval = cfg.ExportInterval
	exporter := services.NewExportService(res.Store, writer, exportCfg, logger)

	var consumer worker.Consumer
	if res.AMQP != nil {
		consumer = res.AMQP
	} else {
		logger.Info("AMQP disabled - relying on the periodic export pass")
	}
	w := worker.NewExportWorker(exporter, consumer, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := w.Run(ctx); err != nil {
		logger.Error("Export worker failed", log.FieldError, err)
	}
	if err := res.Cleanup(); err != nil {
		logger.Warn("Backend cleanup failed", log.FieldError, err)
	}
	if ctx.Err() == nil {
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}

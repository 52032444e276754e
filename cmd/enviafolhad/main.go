// Command enviafolhad serves the dispatch HTTP surface: upload and
// segmentation, run status, start and reset triggers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/lucasplcorrea/EnviaFolha/internal/audit"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/dispatch"
	"github.com/lucasplcorrea/EnviaFolha/internal/messaging"
	"github.com/lucasplcorrea/EnviaFolha/internal/report"
	"github.com/lucasplcorrea/EnviaFolha/internal/roster"
	"github.com/lucasplcorrea/EnviaFolha/internal/segment"
	"github.com/lucasplcorrea/EnviaFolha/internal/server"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		logger.Error("config.dirs_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracker, err := status.NewTracker(cfg.Paths.StatusFile, logger)
	if err != nil {
		logger.Error("status.init_failed", "error", err)
		os.Exit(1)
	}

	auditStore, err := audit.Open(ctx, cfg.Paths.AuditDBPath, logger)
	if err != nil {
		logger.Error("audit.init_failed", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	var src roster.Source
	if cfg.Roster.DatabaseDSN != "" {
		pg, err := roster.OpenPostgres(ctx, cfg.Roster.DatabaseDSN, cfg.Roster.DialTimeout, logger)
		if err != nil {
			logger.Error("roster.init_failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		src = pg
	} else {
		src = roster.NewXLSXSource(cfg.Roster.XLSXPath, logger)
	}

	policy := messaging.DefaultBackoff()
	policy.MaxAttempts = cfg.Dispatch.MaxAttempts
	client := messaging.NewClient(cfg.Channel, policy, logger)

	orch := dispatch.NewOrchestrator(cfg.Dispatch, cfg.Paths, src, client, tracker, logger,
		dispatch.WithAudit(auditStore),
		dispatch.WithReportBuilder(func(dir string, snap status.Snapshot) (string, error) {
			if _, err := report.WriteXLSX(dir, snap, logger); err != nil {
				logger.Error("report.xlsx.failed", "error", err)
			}
			return report.WritePDF(dir, snap)
		}))

	seg := segment.NewSegmenter(segment.ExecRunner{}, cfg.Paths.PdftotextBin, logger)

	srv := server.NewServer(cfg.Server, cfg.Paths, tracker, orch, seg, logger)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server.failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server.stopped")
}

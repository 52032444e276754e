// Command enviafolha drives the payslip pipeline from the terminal:
//
//	enviafolha segment --in folha_junho.pdf
//	enviafolha dispatch
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/lucasplcorrea/EnviaFolha/internal/audit"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/dispatch"
	"github.com/lucasplcorrea/EnviaFolha/internal/messaging"
	"github.com/lucasplcorrea/EnviaFolha/internal/report"
	"github.com/lucasplcorrea/EnviaFolha/internal/roster"
	"github.com/lucasplcorrea/EnviaFolha/internal/segment"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func usage() {
	printError("usage: enviafolha <segment|dispatch|reset> [flags]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "segment":
		err = runSegment(ctx, cfg, logger, os.Args[2:])
	case "dispatch":
		err = runDispatch(ctx, cfg, logger, os.Args[2:])
	case "reset":
		err = runReset(cfg, logger)
	default:
		usage()
	}
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func runSegment(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	in := fs.String("in", "", "path to the multi-page payroll PDF (required)")
	out := fs.String("out", cfg.Paths.PayslipDir, "output directory for per-employee files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return common.NewAppError("CONFIG_ERROR", "--in is required", common.ErrInvalidInput)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	seg := segment.NewSegmenter(segment.ExecRunner{}, cfg.Paths.PdftotextBin, logger)
	result, err := seg.Segment(ctx, *in, *out)
	if err != nil {
		return err
	}

	fmt.Printf("Segmented %d pages into %s\n", len(result.Pages), *out)
	for _, u := range result.Unprotected {
		fmt.Printf("  unprotected: %s (%s)\n", u.Filename, u.Reason)
	}
	return nil
}

func runDispatch(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	src, closeSrc, err := openRoster(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	tracker, err := status.NewTracker(cfg.Paths.StatusFile, logger)
	if err != nil {
		return err
	}

	auditStore, err := audit.Open(ctx, cfg.Paths.AuditDBPath, logger)
	if err != nil {
		return err
	}
	defer auditStore.Close()

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

	summary, err := orch.Run(ctx)
	if summary != nil {
		fmt.Printf("Dispatch %s: %d sent, %d failed, %d skipped\n",
			summary.ExecutionID, summary.Success, summary.Failed, summary.Skipped)
	}
	return err
}

// runReset destroys the run record, clearing a running flag left
// behind by a crashed dispatch.
func runReset(cfg *common.Config, logger *slog.Logger) error {
	tracker, err := status.NewTracker(cfg.Paths.StatusFile, logger)
	if err != nil {
		return err
	}
	if err := tracker.Reset(); err != nil {
		return err
	}
	fmt.Println("Execution status reset.")
	return nil
}

func openRoster(ctx context.Context, cfg *common.Config, logger *slog.Logger) (roster.Source, func(), error) {
	if cfg.Roster.DatabaseDSN != "" {
		pg, err := roster.OpenPostgres(ctx, cfg.Roster.DatabaseDSN, cfg.Roster.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return roster.NewXLSXSource(cfg.Roster.XLSXPath, logger), func() {}, nil
}

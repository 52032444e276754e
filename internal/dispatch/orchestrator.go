package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/messaging"
	"github.com/lucasplcorrea/EnviaFolha/internal/roster"
	"github.com/lucasplcorrea/EnviaFolha/internal/segment"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

// Summary is the outcome of one dispatch run.
type Summary struct {
	ExecutionID string
	Total       int
	Success     int
	Failed      int
	Skipped     int
	Elapsed     time.Duration
}

// Orchestrator coordinates one dispatch run end to end.
type Orchestrator struct {
	cfg     common.DispatchConfig
	paths   common.PathsConfig
	roster  roster.Source
	msgr    Messenger
	tracker *status.Tracker
	audit   AuditLog
	logger  *slog.Logger

	successDelay messaging.HumanDelay
	failureDelay messaging.HumanDelay
	sleep        messaging.SleepFunc
	rng          *rand.Rand

	// listDocs and moveFile are swappable for tests.
	listDocs func(dir string) ([]string, error)
	moveFile func(src, dst string) error

	// buildReport renders the run report sent to the admin. Optional.
	buildReport func(dir string, snap status.Snapshot) (string, error)
}

// Option tweaks an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the pacing sleep. Used by tests.
func WithSleep(s messaging.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithRand fixes the jitter source. Used by tests.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = r }
}

// WithAudit attaches the audit trail.
func WithAudit(a AuditLog) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithReportBuilder attaches the admin report renderer.
func WithReportBuilder(b func(dir string, snap status.Snapshot) (string, error)) Option {
	return func(o *Orchestrator) { o.buildReport = b }
}

func NewOrchestrator(cfg common.DispatchConfig, paths common.PathsConfig, src roster.Source, msgr Messenger, tracker *status.Tracker, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:     cfg,
		paths:   paths,
		roster:  src,
		msgr:    msgr,
		tracker: tracker,
		logger:  logger,
		successDelay: messaging.HumanDelay{
			Base:      cfg.SuccessDelayBase,
			Variation: cfg.SuccessDelayVar,
		},
		failureDelay: messaging.HumanDelay{
			Base:      cfg.FailureDelayBase,
			Variation: cfg.FailureDelayVar,
		},
		sleep:    messaging.CtxSleep,
		listDocs: segment.ListSegmented,
		moveFile: os.Rename,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one dispatch pass. Only one run may be active at a
// time; a concurrent call fails with common.ErrRunActive.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	executionID := uuid.NewString()
	log := o.logger.With("execution_id", executionID)

	entries, err := o.roster.Load(ctx)
	if err != nil {
		return nil, common.WrapError(err, "load roster")
	}
	if len(entries) == 0 {
		return nil, common.NewAppError("ROSTER_EMPTY", "roster has no entries", common.ErrInvalidInput)
	}

	if err := o.tracker.TryStart(len(entries), executionID); err != nil {
		return nil, err
	}
	// The explicit Finish below closes the record before the report is
	// rendered; the deferred one only covers the early-return paths.
	finished := false
	defer func() {
		if finished {
			return
		}
		if err := o.tracker.Finish(); err != nil {
			log.Error("dispatch.finish_failed", "error", err)
		}
	}()

	if o.audit != nil {
		o.audit.RunStarted(ctx, executionID, len(entries))
	}

	if connected, state := o.msgr.CheckConnection(ctx); !connected {
		log.Error("dispatch.channel_unavailable", "state", state)
		_ = o.tracker.UpdateStep("aborted", "")
		return nil, common.NewAppError("CHANNEL_UNAVAILABLE",
			fmt.Sprintf("instance state is %q", state), common.ErrNotConnected)
	}

	docs, err := o.listDocs(o.paths.PayslipDir)
	if err != nil {
		_ = o.tracker.UpdateStep("aborted", "")
		return nil, common.WrapError(err, "list segmented documents")
	}

	log.Info("dispatch.run.start",
		"total", len(entries),
		"documents", len(docs),
		"resume_from", o.cfg.ResumeFromIndex)

	var runErr error
	for i, e := range entries {
		if i < o.cfg.ResumeFromIndex {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warn("dispatch.run.interrupted", "at_index", i)
			runErr = err
			break
		}

		_ = o.tracker.UpdateStep("sending", e.FullName)
		_ = o.tracker.UpdateEmployee(e.UniqueID, e.FullName, e.Phone, constants.EmployeeProcessing, "")

		outcome, reason, sendErr := o.sendOne(ctx, log, docs, e)
		_ = o.tracker.UpdateEmployee(e.UniqueID, e.FullName, e.Phone, outcome, reason)
		if o.audit != nil {
			o.audit.EmployeeOutcome(ctx, executionID, e.UniqueID, outcome, reason)
		}

		// When the channel itself is dead (unauthorized, unknown
		// instance) every further send would fail the same way.
		if errors.Is(sendErr, common.ErrChannelFatal) {
			log.Error("dispatch.run.channel_fatal", "at_index", i)
			runErr = sendErr
			break
		}

		if i == len(entries)-1 {
			break
		}
		delay := o.successDelay
		if outcome == constants.EmployeeFailed {
			delay = o.failureDelay
		}
		if err := o.sleep(ctx, delay.Next(o.rng)); err != nil {
			runErr = err
			break
		}
	}

	if err := o.tracker.Finish(); err != nil {
		log.Error("dispatch.finish_failed", "error", err)
	}
	finished = true

	snap := o.tracker.Snapshot()
	summary := &Summary{
		ExecutionID: executionID,
		Total:       len(entries),
		Success:     snap.SuccessfulSends,
		Failed:      snap.FailedSends,
		Skipped:     len(entries) - snap.ProcessedEmployees,
		Elapsed:     time.Since(start),
	}

	if o.audit != nil {
		o.audit.RunFinished(ctx, executionID, summary.Success, summary.Failed)
	}
	log.Info("dispatch.run.done",
		"success", summary.Success,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed_ms", summary.Elapsed.Milliseconds())

	o.notifyAdmin(ctx, log, snap, summary)
	return summary, runErr
}

// sendOne handles a single recipient and returns their terminal state
// with a short machine-readable reason on failure. The error is only
// set when it should influence the rest of the run.
func (o *Orchestrator) sendOne(ctx context.Context, log *slog.Logger, docs []string, e roster.Entry) (constants.EmployeeState, string, error) {
	number, err := messaging.FormatPhone(e.Phone)
	if err != nil {
		log.Warn("dispatch.employee.bad_phone", "unique_id", e.UniqueID)
		return constants.EmployeeFailed, "invalid phone", nil
	}

	filename, err := roster.MatchDocument(e.UniqueID, docs)
	if err != nil {
		log.Warn("dispatch.employee.no_document", "unique_id", e.UniqueID)
		return constants.EmployeeFailed, reasonOf(err), nil
	}

	if o.cfg.ProbeWhatsApp {
		if exists, err := o.msgr.HasWhatsApp(ctx, number); err == nil && !exists {
			log.Warn("dispatch.employee.not_on_channel", "unique_id", e.UniqueID)
			return constants.EmployeeFailed, "number not on whatsapp", nil
		}
	}

	_, period, _ := segment.ParseFilename(filename)
	caption := buildCaption(e.FullName, period)
	docPath := filepath.Join(o.paths.PayslipDir, filename)

	if err := o.msgr.SendMedia(ctx, number, docPath, caption); err != nil {
		log.Error("dispatch.employee.send_failed", "unique_id", e.UniqueID, "error", err)
		return constants.EmployeeFailed, reasonOf(err), err
	}

	if err := o.moveFile(docPath, filepath.Join(o.paths.SentDir, filename)); err != nil {
		// The message went out; a relocation failure must not flip the
		// outcome or cause a resend on the next run.
		log.Error("dispatch.employee.archive_failed", "unique_id", e.UniqueID, "error", err)
	}

	log.Info("dispatch.employee.sent", "unique_id", e.UniqueID, "file", filename)
	return constants.EmployeeSuccess, "", nil
}

// buildCaption renders the recipient-facing message in Portuguese.
func buildCaption(name, period string) string {
	display := strings.ReplaceAll(period, "_", " de ")
	return fmt.Sprintf(
		"Olá %s, segue seu holerite referente a %s.\n"+
			"A senha para abrir o arquivo são os 4 primeiros dígitos do seu CPF.\n"+
			"Esta é uma mensagem automática, em caso de dúvidas contate o RH.",
		name, display)
}

// notifyAdmin sends the run summary, with the rendered report attached
// when a builder is configured. Failures are logged and swallowed.
func (o *Orchestrator) notifyAdmin(ctx context.Context, log *slog.Logger, snap status.Snapshot, summary *Summary) {
	if !o.cfg.NotifyAdmin || o.cfg.AdminPhone == "" {
		return
	}
	number, err := messaging.FormatPhone(o.cfg.AdminPhone)
	if err != nil {
		log.Error("dispatch.admin.bad_phone", "error", err)
		return
	}

	text := fmt.Sprintf(
		"Envio de holerites concluído.\nTotal: %d\nEnviados: %d\nFalhas: %d\nNão processados: %d",
		summary.Total, summary.Success, summary.Failed, summary.Skipped)

	if o.buildReport != nil {
		if reportPath, err := o.buildReport(o.paths.ReportDir, snap); err == nil {
			if err := o.msgr.SendMedia(ctx, number, reportPath, text); err == nil {
				return
			} else {
				log.Error("dispatch.admin.report_send_failed", "error", err)
			}
		} else {
			log.Error("dispatch.admin.report_build_failed", "error", err)
		}
	}
	if err := o.msgr.SendText(ctx, number, text); err != nil {
		log.Error("dispatch.admin.notify_failed", "error", err)
	}
}

// reasonOf strips the error down to its human-readable message.
func reasonOf(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Package audit keeps a durable trail of dispatch activity in a local
// SQLite database, one row per run event or per-employee outcome.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	event TEXT NOT NULL,
	employee_id TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_execution ON audit_log (execution_id);
`

// Event is one audit row.
type Event struct {
	ID          int64
	ExecutionID string
	Event       string
	EmployeeID  string
	Detail      string
	CreatedAt   time.Time
}

// Store wraps the SQLite audit database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "open audit database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "ping audit database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "create audit schema")
	}

	logger.Info("audit.opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) record(ctx context.Context, executionID, event, employeeID, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (execution_id, event, employee_id, detail) VALUES (?, ?, ?, ?)`,
		executionID, event, employeeID, detail)
	if err != nil {
		// The audit trail is best-effort: a write failure is logged,
		// never propagated into the run outcome.
		s.logger.Error("audit.write_failed", "event", event, "error", err)
	}
	return err
}

// RunStarted records the start of a dispatch run.
func (s *Store) RunStarted(ctx context.Context, executionID string, totalEmployees int) {
	_ = s.record(ctx, executionID, "run_started", "", fmt.Sprintf("total=%d", totalEmployees))
}

// RunFinished records the end of a dispatch run with its final counts.
func (s *Store) RunFinished(ctx context.Context, executionID string, success, failed int) {
	_ = s.record(ctx, executionID, "run_finished", "", fmt.Sprintf("success=%d failed=%d", success, failed))
}

// EmployeeOutcome records a terminal per-employee result.
func (s *Store) EmployeeOutcome(ctx context.Context, executionID, employeeID string, state constants.EmployeeState, message string) {
	_ = s.record(ctx, executionID, "employee_"+string(state), employeeID, message)
}

// ListRun returns the audit rows of one run in insertion order.
func (s *Store) ListRun(ctx context.Context, executionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, event, employee_id, detail, created_at
		 FROM audit_log WHERE execution_id = ? ORDER BY id`,
		executionID)
	if err != nil {
		return nil, common.WrapError(err, "query audit rows")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Event, &e.EmployeeID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, common.WrapError(err, "scan audit row")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

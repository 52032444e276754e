// Package dispatch runs the payslip distribution loop: one pass over
// the roster, matching each recipient to their segmented document and
// sending it over the messaging channel with humanized pacing.
package dispatch

import (
	"context"

	"github.com/lucasplcorrea/EnviaFolha/constants"
)

// Messenger is the outbound channel the orchestrator sends through.
// *messaging.Client satisfies it.
type Messenger interface {
	CheckConnection(ctx context.Context) (connected bool, state string)
	SendText(ctx context.Context, number, text string) error
	SendMedia(ctx context.Context, number, filePath, caption string) error
	HasWhatsApp(ctx context.Context, number string) (bool, error)
}

// AuditLog receives run and per-employee events. Writes are
// best-effort and must never fail the run.
type AuditLog interface {
	RunStarted(ctx context.Context, executionID string, totalEmployees int)
	RunFinished(ctx context.Context, executionID string, success, failed int)
	EmployeeOutcome(ctx context.Context, executionID, employeeID string, state constants.EmployeeState, message string)
}

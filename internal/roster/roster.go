// Package roster loads the recipient list and matches each recipient to
// their segmented payslip document.
package roster

import "context"

// Entry is one roster row. Read-only input, never mutated by a run.
type Entry struct {
	UniqueID string
	FullName string
	Phone    string
}

// Source is the behavior the orchestrator depends on for recipients.
// The roster is loaded fresh for every run.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

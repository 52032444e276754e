package constants

// EmployeeState is the canonical per-employee state within a dispatch run.
type EmployeeState string

// Stable values (stored verbatim in the status file and audit trail).
const (
	EmployeePending    EmployeeState = "pending"
	EmployeeProcessing EmployeeState = "processing"
	EmployeeSuccess    EmployeeState = "success"
	EmployeeFailed     EmployeeState = "failed"
)

// Terminal reports whether no further transition is allowed for the state.
func (s EmployeeState) Terminal() bool {
	return s == EmployeeSuccess || s == EmployeeFailed
}

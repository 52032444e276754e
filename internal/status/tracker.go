// Package status keeps the durable dispatch run record: a mutex-guarded
// JSON file any external observer can poll for progress.
package status

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// EmployeeStatus is the per-employee progress entry within a run.
type EmployeeStatus struct {
	Name      string                  `json:"name"`
	Phone     string                  `json:"phone"`
	Status    constants.EmployeeState `json:"status"`
	Message   string                  `json:"message"`
	Timestamp time.Time               `json:"timestamp"`
}

// Snapshot is the full durable run record.
type Snapshot struct {
	IsRunning          bool                      `json:"is_running"`
	StartTime          *time.Time                `json:"start_time"`
	EndTime            *time.Time                `json:"end_time"`
	CurrentStep        string                    `json:"current_step"`
	TotalEmployees     int                       `json:"total_employees"`
	ProcessedEmployees int                       `json:"processed_employees"`
	SuccessfulSends    int                       `json:"successful_sends"`
	FailedSends        int                       `json:"failed_sends"`
	CurrentEmployee    string                    `json:"current_employee"`
	EmployeesStatus    map[string]EmployeeStatus `json:"employees_status"`
	LastUpdate         time.Time                 `json:"last_update"`
	ExecutionID        string                    `json:"execution_id"`
}

// statusSchema guards the durable file against corruption: an invalid
// file is reinitialized instead of trusted.
const statusSchema = `{
	"type": "object",
	"required": ["is_running", "total_employees", "processed_employees", "successful_sends", "failed_sends", "employees_status"],
	"properties": {
		"is_running": {"type": "boolean"},
		"total_employees": {"type": "integer", "minimum": 0},
		"processed_employees": {"type": "integer", "minimum": 0},
		"successful_sends": {"type": "integer", "minimum": 0},
		"failed_sends": {"type": "integer", "minimum": 0},
		"current_step": {"type": "string"},
		"current_employee": {"type": "string"},
		"execution_id": {"type": "string"},
		"employees_status": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["status"],
				"properties": {
					"name": {"type": "string"},
					"phone": {"type": "string"},
					"status": {"enum": ["pending", "processing", "success", "failed"]},
					"message": {"type": "string"}
				}
			}
		}
	}
}`

// Tracker serializes all access to the run record. Concurrent start
// attempts are resolved by check-and-set under the same lock.
type Tracker struct {
	path   string
	mu     sync.Mutex
	schema *jsonschema.Schema
	logger *slog.Logger
	now    func() time.Time
}

func NewTracker(path string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("status.schema.json", strings.NewReader(statusSchema)); err != nil {
		return nil, common.WrapError(err, "add status schema")
	}
	schema, err := compiler.Compile("status.schema.json")
	if err != nil {
		return nil, common.WrapError(err, "compile status schema")
	}

	t := &Tracker{path: path, schema: schema, logger: logger, now: time.Now}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := t.save(emptySnapshot()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{EmployeesStatus: map[string]EmployeeStatus{}}
}

// TryStart atomically claims the run slot. It fails with ErrRunActive
// when a run is already in progress, without touching the existing
// record.
func (t *Tracker) TryStart(totalEmployees int, executionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	if s.IsRunning {
		return common.ErrRunActive
	}

	now := t.now()
	*s = Snapshot{
		IsRunning:       true,
		StartTime:       &now,
		CurrentStep:     "starting run",
		TotalEmployees:  totalEmployees,
		EmployeesStatus: map[string]EmployeeStatus{},
		ExecutionID:     executionID,
	}
	return t.save(s)
}

// Finish closes the current run. Always safe to call; finishing an
// idle tracker is a no-op on the counters.
func (t *Tracker) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	now := t.now()
	s.IsRunning = false
	s.EndTime = &now
	s.CurrentStep = "run finished"
	s.CurrentEmployee = ""
	return t.save(s)
}

// UpdateStep records the run's current step and optionally the
// employee being worked on.
func (t *Tracker) UpdateStep(step, employeeName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	s.CurrentStep = step
	if employeeName != "" {
		s.CurrentEmployee = employeeName
	}
	return t.save(s)
}

// UpdateEmployee transitions one employee's state. Transitions out of a
// terminal state are ignored: an employee is never re-opened within a
// run. processed always equals success + failed.
func (t *Tracker) UpdateEmployee(employeeID, name, phone string, state constants.EmployeeState, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	if prev, ok := s.EmployeesStatus[employeeID]; ok && prev.Status.Terminal() {
		t.logger.Warn("status.employee.terminal_transition_ignored",
			"employee_id", employeeID, "from", prev.Status, "to", state)
		return nil
	}

	s.EmployeesStatus[employeeID] = EmployeeStatus{
		Name:      name,
		Phone:     phone,
		Status:    state,
		Message:   message,
		Timestamp: t.now(),
	}

	switch state {
	case constants.EmployeeSuccess:
		s.SuccessfulSends++
	case constants.EmployeeFailed:
		s.FailedSends++
	}
	s.ProcessedEmployees = s.SuccessfulSends + s.FailedSends
	return t.save(s)
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	out := *s
	out.EmployeesStatus = make(map[string]EmployeeStatus, len(s.EmployeesStatus))
	for k, v := range s.EmployeesStatus {
		out.EmployeesStatus[k] = v
	}
	return out
}

// IsRunning reports whether a run is in progress.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load().IsRunning
}

// Progress returns run completion as a percentage.
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.load()
	if s.TotalEmployees == 0 {
		return 0
	}
	return float64(s.ProcessedEmployees) / float64(s.TotalEmployees) * 100
}

// EmployeesByState lists entries currently in the given state.
func (t *Tracker) EmployeesByState(state constants.EmployeeState) []EmployeeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []EmployeeStatus
	for _, e := range t.load().EmployeesStatus {
		if e.Status == state {
			out = append(out, e)
		}
	}
	return out
}

// Reset destroys all run bookkeeping. It is the emergency stop: it
// clears a stale running flag but does not interrupt an in-flight send.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return common.WrapError(err, "remove status file")
	}
	return t.save(emptySnapshot())
}

// load reads the record, validating it against the schema. A missing,
// unreadable or invalid file yields a fresh record. Callers hold mu.
func (t *Tracker) load() *Snapshot {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return emptySnapshot()
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.logger.Warn("status.file.unparseable", "path", t.path, "error", err)
		return emptySnapshot()
	}
	if err := t.schema.Validate(probe); err != nil {
		t.logger.Warn("status.file.schema_invalid", "path", t.path, "error", err)
		return emptySnapshot()
	}

	s := emptySnapshot()
	if err := json.Unmarshal(raw, s); err != nil {
		return emptySnapshot()
	}
	if s.EmployeesStatus == nil {
		s.EmployeesStatus = map[string]EmployeeStatus{}
	}
	return s
}

// save persists the record. Callers hold mu.
func (t *Tracker) save(s *Snapshot) error {
	s.LastUpdate = t.now()
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode status")
	}
	return common.WrapError(os.WriteFile(t.path, raw, 0o644), "write status file")
}

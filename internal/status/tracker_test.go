package status

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(filepath.Join(t.TempDir(), "status.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestTryStart_SingleFlight(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.TryStart(3, "run-1"); err != nil {
		t.Fatalf("first TryStart: %v", err)
	}
	err := tr.TryStart(5, "run-2")
	if !errors.Is(err, common.ErrRunActive) {
		t.Fatalf("second TryStart = %v, want ErrRunActive", err)
	}

	// The rejected start must not mutate the active run.
	s := tr.Snapshot()
	if s.ExecutionID != "run-1" || s.TotalEmployees != 3 {
		t.Errorf("active run mutated by rejected start: %+v", s)
	}

	if err := tr.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := tr.TryStart(5, "run-2"); err != nil {
		t.Fatalf("TryStart after Finish: %v", err)
	}
}

func TestTryStart_ConcurrentAttempts(t *testing.T) {
	tr := newTestTracker(t)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.TryStart(1, "run")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, common.ErrRunActive) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("%d starts won the race, want exactly 1", won)
	}
}

func TestUpdateEmployee_CountersInvariant(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.TryStart(3, "run-1"); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		id    string
		state constants.EmployeeState
	}{
		{"e1", constants.EmployeeProcessing},
		{"e1", constants.EmployeeSuccess},
		{"e2", constants.EmployeeProcessing},
		{"e2", constants.EmployeeFailed},
		{"e3", constants.EmployeeProcessing},
	}
	for _, st := range steps {
		if err := tr.UpdateEmployee(st.id, "name", "phone", st.state, ""); err != nil {
			t.Fatal(err)
		}
		s := tr.Snapshot()
		if s.ProcessedEmployees != s.SuccessfulSends+s.FailedSends {
			t.Fatalf("invariant broken: processed=%d success=%d failed=%d",
				s.ProcessedEmployees, s.SuccessfulSends, s.FailedSends)
		}
	}

	s := tr.Snapshot()
	if s.SuccessfulSends != 1 || s.FailedSends != 1 || s.ProcessedEmployees != 2 {
		t.Errorf("counters = %+v", s)
	}
}

func TestUpdateEmployee_TerminalIsFinal(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.TryStart(1, "run-1"); err != nil {
		t.Fatal(err)
	}

	if err := tr.UpdateEmployee("e1", "n", "p", constants.EmployeeSuccess, "sent"); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateEmployee("e1", "n", "p", constants.EmployeeFailed, "late failure"); err != nil {
		t.Fatal(err)
	}

	s := tr.Snapshot()
	if s.EmployeesStatus["e1"].Status != constants.EmployeeSuccess {
		t.Errorf("terminal state was re-opened: %+v", s.EmployeesStatus["e1"])
	}
	if s.SuccessfulSends != 1 || s.FailedSends != 0 {
		t.Errorf("counters mutated by ignored transition: %+v", s)
	}
}

func TestReset_ClearsStaleRunningFlag(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.TryStart(2, "run-1"); err != nil {
		t.Fatal(err)
	}

	if err := tr.Reset(); err != nil {
		t.Fatal(err)
	}
	if tr.IsRunning() {
		t.Fatal("still running after reset")
	}
	if err := tr.TryStart(2, "run-2"); err != nil {
		t.Fatalf("TryStart after reset: %v", err)
	}
}

func TestLoad_CorruptFileReinitialized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	tr, err := NewTracker(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Valid JSON but schema-invalid: is_running has the wrong type.
	if err := os.WriteFile(path, []byte(`{"is_running": "yes"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if tr.IsRunning() {
		t.Error("schema-invalid file trusted")
	}

	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if tr.IsRunning() {
		t.Error("unparseable file trusted")
	}

	// A corrupt file must not block a new run.
	if err := tr.TryStart(1, "run-after-corruption"); err != nil {
		t.Fatalf("TryStart after corruption: %v", err)
	}
}

func TestProgress(t *testing.T) {
	tr := newTestTracker(t)
	if got := tr.Progress(); got != 0 {
		t.Errorf("progress on empty tracker = %v", got)
	}

	if err := tr.TryStart(4, "run"); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateEmployee("e1", "n", "p", constants.EmployeeSuccess, ""); err != nil {
		t.Fatal(err)
	}
	if got := tr.Progress(); got != 25 {
		t.Errorf("progress = %v, want 25", got)
	}
}

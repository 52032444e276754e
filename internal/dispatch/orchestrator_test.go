package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/roster"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

type fakeSource struct {
	entries []roster.Entry
	err     error
}

func (f *fakeSource) Load(ctx context.Context) ([]roster.Entry, error) {
	return f.entries, f.err
}

type mediaCall struct {
	number   string
	filePath string
	caption  string
}

type fakeMessenger struct {
	connected  bool
	state      string
	mediaErrs  map[string]error // keyed by number, applied once per call
	mediaCalls []mediaCall
	textCalls  []string
}

func (f *fakeMessenger) CheckConnection(ctx context.Context) (bool, string) {
	return f.connected, f.state
}

func (f *fakeMessenger) SendText(ctx context.Context, number, text string) error {
	f.textCalls = append(f.textCalls, number)
	return nil
}

func (f *fakeMessenger) SendMedia(ctx context.Context, number, filePath, caption string) error {
	f.mediaCalls = append(f.mediaCalls, mediaCall{number, filePath, caption})
	return f.mediaErrs[number]
}

func (f *fakeMessenger) HasWhatsApp(ctx context.Context, number string) (bool, error) {
	return true, nil
}

func newTestTracker(t *testing.T) *status.Tracker {
	t.Helper()
	tr, err := status.NewTracker(filepath.Join(t.TempDir(), "status.json"), nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func testOrchestrator(t *testing.T, entries []roster.Entry, msgr *fakeMessenger, docs []string, cfg common.DispatchConfig) (*Orchestrator, *status.Tracker, *[]string) {
	t.Helper()
	tracker := newTestTracker(t)
	if cfg.SuccessDelayBase == 0 {
		cfg.SuccessDelayBase = 60 * time.Second
	}
	if cfg.FailureDelayBase == 0 {
		cfg.FailureDelayBase = 30 * time.Second
	}

	paths := common.PathsConfig{
		PayslipDir: filepath.Join(t.TempDir(), "holerites"),
		SentDir:    filepath.Join(t.TempDir(), "enviados"),
		ReportDir:  t.TempDir(),
	}

	moved := []string{}
	o := NewOrchestrator(cfg, paths, &fakeSource{entries: entries}, msgr, tracker, nil,
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	o.listDocs = func(dir string) ([]string, error) { return docs, nil }
	o.moveFile = func(src, dst string) error {
		moved = append(moved, filepath.Base(src))
		return nil
	}
	return o, tracker, &moved
}

func twoEmployees() []roster.Entry {
	return []roster.Entry{
		{UniqueID: "005900001", FullName: "Ana Souza", Phone: "47999887766"},
		{UniqueID: "005900002", FullName: "Bruno Lima", Phone: "47988776655"},
	}
}

var twoDocs = []string{
	"005900001_holerite_junho_2025.pdf",
	"005900002_holerite_junho_2025.pdf",
}

func TestRunHappyPath(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, moved := testOrchestrator(t, twoEmployees(), msgr, twoDocs, common.DispatchConfig{})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Success != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 success", summary)
	}
	if len(msgr.mediaCalls) != 2 {
		t.Fatalf("got %d media calls, want 2", len(msgr.mediaCalls))
	}
	if len(*moved) != 2 {
		t.Fatalf("got %d archived files, want 2", len(*moved))
	}
	if (*moved)[0] != "005900001_holerite_junho_2025.pdf" {
		t.Errorf("archived %q first", (*moved)[0])
	}
	snap := tracker.Snapshot()
	if snap.IsRunning {
		t.Error("run still marked active after Finish")
	}
	if snap.ProcessedEmployees != 2 {
		t.Errorf("processed = %d, want 2", snap.ProcessedEmployees)
	}
}

func TestRunCaptionMentionsPeriodAndPassword(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, _, _ := testOrchestrator(t, twoEmployees()[:1], msgr, twoDocs, common.DispatchConfig{})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	caption := msgr.mediaCalls[0].caption
	for _, want := range []string{"Ana Souza", "junho de 2025", "CPF"} {
		if !strings.Contains(caption, want) {
			t.Errorf("caption %q missing %q", caption, want)
		}
	}
}

func TestRunInvalidPhoneSkipsNetwork(t *testing.T) {
	entries := []roster.Entry{
		{UniqueID: "005900001", FullName: "Ana Souza", Phone: "nan"},
	}
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, moved := testOrchestrator(t, entries, msgr, twoDocs, common.DispatchConfig{})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed)
	}
	if len(msgr.mediaCalls) != 0 {
		t.Fatal("invalid phone must not reach the channel")
	}
	if len(*moved) != 0 {
		t.Fatal("nothing should be archived on failure")
	}
	st := tracker.Snapshot().EmployeesStatus["005900001"]
	if st.Status != constants.EmployeeFailed || st.Message != "invalid phone" {
		t.Errorf("status = %+v", st)
	}
}

// Phone validation runs before document matching, so an employee with
// both problems is reported for the phone.
func TestRunInvalidPhoneReportedBeforeMissingDocument(t *testing.T) {
	entries := []roster.Entry{
		{UniqueID: "005900001", FullName: "Ana Souza", Phone: "nan"},
	}
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, _ := testOrchestrator(t, entries, msgr, nil, common.DispatchConfig{})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := tracker.Snapshot().EmployeesStatus["005900001"]
	if st.Status != constants.EmployeeFailed {
		t.Fatalf("status = %q, want failed", st.Status)
	}
	if st.Message != "invalid phone" {
		t.Errorf("message = %q, want %q", st.Message, "invalid phone")
	}
}

func TestRunDocumentNotFound(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, _ := testOrchestrator(t, twoEmployees()[:1], msgr, nil, common.DispatchConfig{})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := tracker.Snapshot().EmployeesStatus["005900001"]
	if st.Status != constants.EmployeeFailed {
		t.Fatalf("status = %q, want failed", st.Status)
	}
	if st.Message != "document not found for id 005900001" {
		t.Errorf("message = %q", st.Message)
	}
	if len(msgr.mediaCalls) != 0 {
		t.Error("missing document must not reach the channel")
	}
}

func TestRunChannelFatalAborts(t *testing.T) {
	msgr := &fakeMessenger{
		connected: true,
		state:     "open",
		mediaErrs: map[string]error{
			"5547999887766": common.NewAppError("CHANNEL_FATAL", "unauthorized", common.ErrChannelFatal),
		},
	}
	o, tracker, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs, common.DispatchConfig{})

	_, err := o.Run(context.Background())
	if !errors.Is(err, common.ErrChannelFatal) {
		t.Fatalf("err = %v, want ErrChannelFatal", err)
	}
	snap := tracker.Snapshot()
	if snap.EmployeesStatus["005900001"].Status != constants.EmployeeFailed {
		t.Error("first employee should be failed")
	}
	if st, ok := snap.EmployeesStatus["005900002"]; ok && st.Status.Terminal() {
		t.Errorf("second employee reached terminal state %q after abort", st.Status)
	}
	if len(msgr.mediaCalls) != 1 {
		t.Fatalf("got %d media calls after fatal, want 1", len(msgr.mediaCalls))
	}
}

func TestRunNotConnectedAborts(t *testing.T) {
	msgr := &fakeMessenger{connected: false, state: "close"}
	o, _, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs, common.DispatchConfig{})

	_, err := o.Run(context.Background())
	if !errors.Is(err, common.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(msgr.mediaCalls) != 0 {
		t.Error("no sends allowed while disconnected")
	}
}

func TestRunSingleFlight(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs, common.DispatchConfig{})

	if err := tracker.TryStart(1, "other-run"); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	_, err := o.Run(context.Background())
	if !errors.Is(err, common.ErrRunActive) {
		t.Fatalf("err = %v, want ErrRunActive", err)
	}
	if len(msgr.mediaCalls) != 0 {
		t.Error("rejected run must not send")
	}
}

func TestRunResumeOffsetSkipsEarlier(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, tracker, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs,
		common.DispatchConfig{ResumeFromIndex: 1})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Success != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want 1 success 1 skipped", summary)
	}
	if _, ok := tracker.Snapshot().EmployeesStatus["005900001"]; ok {
		t.Error("skipped employee must not be touched")
	}
	if msgr.mediaCalls[0].number != "5547988776655" {
		t.Errorf("sent to %q, want the second employee", msgr.mediaCalls[0].number)
	}
}

func TestRunCancelledBetweenEmployees(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, _, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs, common.DispatchConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(msgr.mediaCalls) != 1 {
		t.Fatalf("got %d media calls after cancel, want 1", len(msgr.mediaCalls))
	}
}

// The run record is closed before the report is rendered, so the
// report sees the end time and a cleared running flag.
func TestRunReportSeesFinishedRecord(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, _, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs,
		common.DispatchConfig{NotifyAdmin: true, AdminPhone: "47911112222"})

	var reported *status.Snapshot
	o.buildReport = func(dir string, snap status.Snapshot) (string, error) {
		reported = &snap
		return filepath.Join(dir, "relatorio.pdf"), nil
	}

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reported == nil {
		t.Fatal("report builder was never called")
	}
	if reported.IsRunning {
		t.Error("report rendered while the record was still running")
	}
	if reported.EndTime == nil {
		t.Error("report rendered without an end time")
	}
}

func TestRunAdminNotification(t *testing.T) {
	msgr := &fakeMessenger{connected: true, state: "open"}
	o, _, _ := testOrchestrator(t, twoEmployees(), msgr, twoDocs,
		common.DispatchConfig{NotifyAdmin: true, AdminPhone: "47911112222"})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgr.textCalls) != 1 {
		t.Fatalf("got %d admin texts, want 1", len(msgr.textCalls))
	}
	if msgr.textCalls[0] != "5547911112222" {
		t.Errorf("admin text sent to %q", msgr.textCalls[0])
	}
}


package segment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasplcorrea/EnviaFolha/internal/extract"
)

// fakeRunner returns canned pdftotext output.
type fakeRunner struct {
	stdout string
	err    error
}

func (f fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return []byte(f.stdout), nil, f.err
}

func TestIdentifier(t *testing.T) {
	matched := func(v string) extract.Field { return extract.Field{Value: v, Matched: true} }

	tests := []struct {
		name         string
		company      extract.Field
		registration extract.Field
		page         int
		want         string
	}{
		{"both present", matched("59"), matched("1234"), 1, "005901234"},
		{"already wide", matched("0059"), matched("12345"), 1, "005912345"},
		{"company missing", extract.Field{}, matched("1234"), 3, "UNKNOWN_3"},
		{"registration missing", matched("59"), extract.Field{}, 7, "UNKNOWN_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identifier(tt.company, tt.registration, tt.page); got != tt.want {
				t.Errorf("Identifier = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentifier_DistinctUnknownPages(t *testing.T) {
	a := Identifier(extract.Field{}, extract.Field{}, 1)
	b := Identifier(extract.Field{}, extract.Field{}, 2)
	if a == b {
		t.Fatalf("unknown pages 1 and 2 collided on %q", a)
	}
}

func TestParseFilename_RoundTrip(t *testing.T) {
	id := Identifier(
		extract.Field{Value: "59", Matched: true},
		extract.Field{Value: "1234", Matched: true},
		1,
	)
	name := id + FilenameSuffix + "junho_2025.pdf"

	gotID, gotPeriod, ok := ParseFilename(name)
	if !ok {
		t.Fatalf("ParseFilename(%q) not ok", name)
	}
	if gotID != id || gotPeriod != "junho_2025" {
		t.Errorf("round trip = (%q, %q), want (%q, junho_2025)", gotID, gotPeriod, id)
	}
}

func TestParseFilename_Foreign(t *testing.T) {
	if _, _, ok := ParseFilename("notes.pdf"); ok {
		t.Error("expected foreign filename to be rejected")
	}
}

const pageWithoutTaxID = `0059-ACME INFRAESTRUTURA LTDA
06/2025 Mensal
Cadastro Nome do Funcionário CBO Empresa Local Departamento FL
 1234 JOAO DA SILVA 517330 0059 1 12 1
`

func TestProcessPage_MissingTaxID(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	pagePath := filepath.Join(dir, "page.pdf")
	if err := os.WriteFile(pagePath, []byte("%PDF-stub"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSegmenter(fakeRunner{stdout: pageWithoutTaxID}, "pdftotext", nil)
	pr, err := s.processPage(context.Background(), pagePath, outDir, 1)
	if err != nil {
		t.Fatalf("processPage: %v", err)
	}

	if pr.PasswordProtected {
		t.Error("page without tax-id must not be password protected")
	}
	if pr.unprotectedReason != "tax-id not found" {
		t.Errorf("reason = %q, want %q", pr.unprotectedReason, "tax-id not found")
	}
	if pr.Filename != "005901234_holerite_junho_2025.pdf" {
		t.Errorf("filename = %q", pr.Filename)
	}
	if _, err := os.Stat(pr.FilePath); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestProcessPage_EncryptionErrorFallsBackUnprotected(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Not a real PDF, so encryption fails and the page is emitted in
	// the clear with the error recorded.
	pagePath := filepath.Join(dir, "page.pdf")
	if err := os.WriteFile(pagePath, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	text := pageWithoutTaxID + "CPF: 123.456.789-09\n"
	s := NewSegmenter(fakeRunner{stdout: text}, "pdftotext", nil)
	pr, err := s.processPage(context.Background(), pagePath, outDir, 2)
	if err != nil {
		t.Fatalf("processPage: %v", err)
	}

	if pr.PasswordProtected {
		t.Error("encryption failure must leave the page unprotected")
	}
	if !strings.HasPrefix(pr.unprotectedReason, "encryption error:") {
		t.Errorf("reason = %q, want encryption error prefix", pr.unprotectedReason)
	}
	if _, err := os.Stat(pr.FilePath); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

// A single page's disk failure is folded into its result so the other
// pages of the document are still emitted.
func TestPageResult_WriteFailureIsRecordedNotFatal(t *testing.T) {
	dir := t.TempDir()
	pagePath := filepath.Join(dir, "page.pdf")
	if err := os.WriteFile(pagePath, []byte("%PDF-stub"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The output directory does not exist, so writing the page fails.
	outDir := filepath.Join(dir, "missing", "out")
	s := NewSegmenter(fakeRunner{stdout: pageWithoutTaxID}, "pdftotext", nil)
	pr := s.pageResult(context.Background(), pagePath, outDir, 4)

	if pr.PageNumber != 4 {
		t.Errorf("page number = %d, want 4", pr.PageNumber)
	}
	if !strings.HasPrefix(pr.unprotectedReason, "write error:") {
		t.Errorf("reason = %q, want write error prefix", pr.unprotectedReason)
	}
	if pr.PasswordProtected {
		t.Error("failed page must not claim protection")
	}
}

func TestProcessPage_TextFailureUsesSentinels(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	pagePath := filepath.Join(dir, "page.pdf")
	if err := os.WriteFile(pagePath, []byte("%PDF-stub"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSegmenter(fakeRunner{err: os.ErrNotExist}, "pdftotext", nil)
	pr, err := s.processPage(context.Background(), pagePath, outDir, 5)
	if err != nil {
		t.Fatalf("processPage: %v", err)
	}
	if pr.UniqueID != "UNKNOWN_5" {
		t.Errorf("unique id = %q, want UNKNOWN_5", pr.UniqueID)
	}
	if pr.Period != extract.UnknownDate {
		t.Errorf("period = %q, want %q", pr.Period, extract.UnknownDate)
	}
}

func TestListSegmented(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_holerite_x.pdf", "a_holerite_x.pdf", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := ListSegmented(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a_holerite_x.pdf" || names[1] != "b_holerite_x.pdf" {
		t.Errorf("ListSegmented = %v", names)
	}
}

// Package segment splits a combined payroll PDF into one encrypted
// document per employee page.
package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/extract"
)

// FilenameSuffix joins the identifier and the reference period in a
// segmented payslip filename: {identifier}_holerite_{period}.pdf
const FilenameSuffix = "_holerite_"

// PageResult is the per-page segmentation outcome.
type PageResult struct {
	Filename          string `json:"filename"`
	UniqueID          string `json:"unique_id"`
	PasswordProtected bool   `json:"password_protected"`
	TaxIDPrefix       string `json:"cpf_4_digits,omitempty"`
	Period            string `json:"month_year"`
	FilePath          string `json:"file_path"`
	Size              int64  `json:"size"`
	PageNumber        int    `json:"page_number"`

	unprotectedReason string
}

// UnprotectedEntry records one output file that left the segmenter
// without password protection, with the reason verbatim.
type UnprotectedEntry struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Result summarizes a full segmentation run. Pages always has exactly
// one entry per source page.
type Result struct {
	Pages       []PageResult       `json:"files"`
	Unprotected []UnprotectedEntry `json:"unprotected,omitempty"`
}

// Segmenter turns a combined payroll PDF into per-employee files.
type Segmenter struct {
	runner       Runner
	pdftotextBin string
	logger       *slog.Logger
}

func NewSegmenter(runner Runner, pdftotextBin string, logger *slog.Logger) *Segmenter {
	if runner == nil {
		runner = ExecRunner{}
	}
	if pdftotextBin == "" {
		pdftotextBin = "pdftotext"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{runner: runner, pdftotextBin: pdftotextBin, logger: logger}
}

// Segment splits sourcePath into outputDir, one encrypted single-page
// PDF per employee. A page whose fields cannot be extracted degrades to
// sentinel values; a page without a tax-id is written unprotected and
// reported. A per-page failure never aborts the document.
func (s *Segmenter) Segment(ctx context.Context, sourcePath, outputDir string) (*Result, error) {
	start := time.Now()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, common.WrapError(err, "create output directory")
	}

	tempDir, err := os.MkdirTemp("", "enviafolha-split-*")
	if err != nil {
		return nil, common.WrapError(err, "create temp dir")
	}
	defer os.RemoveAll(tempDir)

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, common.WrapError(err, "validate/optimize source PDF")
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, common.WrapError(err, "page count")
	}

	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		return nil, common.WrapError(err, "split source PDF")
	}

	s.logger.Info("segment.split.ok", "source", sourcePath, "pages", pageCount)

	pages := make([]PageResult, pageCount)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		pagePath := filepath.Join(tempDir, fmt.Sprintf("optimized_%d.pdf", pageNumber))
		eg.Go(func() error {
			pages[pageNumber-1] = s.pageResult(gctx, pagePath, outputDir, pageNumber)
			return nil
		})
	}
	// Per-page failures were already folded into their results; only a
	// group context cancellation can surface here.
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Pages: pages}
	for _, pr := range pages {
		if pr.unprotectedReason != "" {
			res.Unprotected = append(res.Unprotected, UnprotectedEntry{
				Filename: pr.Filename,
				Reason:   pr.unprotectedReason,
			})
		}
	}

	s.logger.Info("segment.done",
		"source", sourcePath,
		"pages", pageCount,
		"unprotected", len(res.Unprotected),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// pageResult wraps processPage so a single page's disk failure is
// recorded in its result instead of aborting the remaining pages. The
// error return stays reserved for document-level failures.
func (s *Segmenter) pageResult(ctx context.Context, pagePath, outputDir string, pageNumber int) PageResult {
	pr, err := s.processPage(ctx, pagePath, outputDir, pageNumber)
	if err != nil {
		s.logger.Error("segment.page.write_failed", "page", pageNumber, "error", err)
		pr.unprotectedReason = fmt.Sprintf("write error: %v", err)
	}
	return pr
}

// processPage is the per-page pipeline: text extraction, field
// extraction, identifier construction, encrypted write.
func (s *Segmenter) processPage(ctx context.Context, pagePath, outputDir string, pageNumber int) (PageResult, error) {
	text, err := s.pageText(ctx, pagePath)
	if err != nil {
		// Text extraction failure degrades to sentinel fields; the
		// page itself is still emitted.
		s.logger.Warn("segment.page.text_failed", "page", pageNumber, "error", err)
		text = ""
	}

	fields := extract.Extract(text)

	identifier := Identifier(fields.CompanyCode, fields.RegistrationCode, pageNumber)
	period := extract.FormatPeriod(fields.ReferencePeriod)
	password := extract.Password(fields.TaxIDFragment.Or(""))

	filename := identifier + FilenameSuffix + period + ".pdf"
	outPath := filepath.Join(outputDir, filename)

	pr := PageResult{
		Filename:   filename,
		UniqueID:   identifier,
		Period:     period,
		FilePath:   outPath,
		PageNumber: pageNumber,
	}

	if password == "" {
		pr.unprotectedReason = "tax-id not found"
		if err := copyFile(pagePath, outPath); err != nil {
			return pr, common.WrapError(err, "write unprotected page")
		}
	} else if err := encryptPDF(pagePath, outPath, password); err != nil {
		// Both the document owner and the report need to know why
		// this one went out in the clear.
		pr.unprotectedReason = fmt.Sprintf("encryption error: %v", err)
		s.logger.Warn("segment.page.encrypt_failed", "page", pageNumber, "id", identifier, "error", err)
		if err := copyFile(pagePath, outPath); err != nil {
			return pr, common.WrapError(err, "write unprotected page")
		}
	} else {
		pr.PasswordProtected = true
		pr.TaxIDPrefix = password
	}

	if fi, err := os.Stat(outPath); err == nil {
		pr.Size = fi.Size()
	}

	s.logger.Info("segment.page.ok",
		"page", pageNumber,
		"file", filename,
		"protected", pr.PasswordProtected,
	)
	return pr, nil
}

func (s *Segmenter) pageText(ctx context.Context, pagePath string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <page.pdf> -
	out, errb, err := s.runner.Run(ctx, s.pdftotextBin, "-layout", "-enc", "UTF-8", "-eol", "unix", pagePath, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w (%s)", err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}

// Identifier builds the canonical per-employee identifier: company code
// zero-padded to 4 plus registration code zero-padded to 5. Pages where
// either code is missing get a page-indexed sentinel so that distinct
// unknown pages never collide.
func Identifier(company, registration extract.Field, pageNumber int) string {
	if company.Matched && registration.Matched {
		return zfill(company.Value, 4) + zfill(registration.Value, 5)
	}
	return fmt.Sprintf("UNKNOWN_%d", pageNumber)
}

// ParseFilename recovers the identifier and reference period from a
// segmented payslip filename.
func ParseFilename(name string) (identifier, period string, ok bool) {
	name = strings.TrimSuffix(name, ".pdf")
	idx := strings.Index(name, FilenameSuffix)
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len(FilenameSuffix):], true
}

func zfill(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func encryptPDF(inPath, outPath, password string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	cfg.UserPW = password
	cfg.OwnerPW = password
	return api.EncryptFile(inPath, outPath, cfg)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ListSegmented returns the segmented payslip filenames present in dir,
// sorted for deterministic matching.
func ListSegmented(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

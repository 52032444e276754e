package roster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// Column header synonyms accepted in roster workbooks. The legacy
// spreadsheets use the Portuguese headers.
var (
	idHeaders    = []string{"unique_id", "id_unico", "id"}
	nameHeaders  = []string{"employee_name", "full_name", "nome_colaborador", "nome"}
	phoneHeaders = []string{"phone", "phone_number", "telefone"}
)

// XLSXSource reads roster entries from an Excel workbook. The first
// sheet must carry a header row; rows with an empty unique id are
// skipped.
type XLSXSource struct {
	Path   string
	Logger *slog.Logger
}

func NewXLSXSource(path string, logger *slog.Logger) *XLSXSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXSource{Path: path, Logger: logger}
}

func (s *XLSXSource) Load(ctx context.Context) ([]Entry, error) {
	start := time.Now()

	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, common.WrapError(err, "open roster workbook")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, common.WrapError(err, "read roster sheet")
	}
	if len(rows) == 0 {
		return nil, common.NewAppError("ROSTER_EMPTY", "roster sheet has no header row", common.ErrInvalidInput)
	}

	idCol, err := findColumn(rows[0], idHeaders)
	if err != nil {
		return nil, err
	}
	nameCol, err := findColumn(rows[0], nameHeaders)
	if err != nil {
		return nil, err
	}
	phoneCol, err := findColumn(rows[0], phoneHeaders)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, row := range rows[1:] {
		e := Entry{
			UniqueID: cell(row, idCol),
			FullName: cell(row, nameCol),
			Phone:    cell(row, phoneCol),
		}
		if e.UniqueID == "" {
			continue
		}
		entries = append(entries, e)
	}

	s.Logger.Info("roster.xlsx.loaded",
		"path", s.Path,
		"sheet", sheet,
		"entries", len(entries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return entries, nil
}

func findColumn(header []string, names []string) (int, error) {
	for i, h := range header {
		normalized := strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if normalized == n {
				return i, nil
			}
		}
	}
	return 0, common.NewAppError("ROSTER_HEADER",
		fmt.Sprintf("roster sheet is missing a %q column", names[0]),
		common.ErrInvalidInput)
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

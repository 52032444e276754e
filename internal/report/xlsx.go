// Package report renders run artifacts: an XLSX workbook with the
// per-employee outcomes and a compact PDF summary for the admin.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

// WriteXLSX writes the per-employee outcome workbook into dir and
// returns its path.
func WriteXLSX(dir string, snap status.Snapshot, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", common.WrapError(err, "ensure report directory")
	}

	f := excelize.NewFile()
	const sheet = "Envios"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return "", err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defaultIdx, _ := f.GetSheetIndex("Sheet1"); defaultIdx != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{"ID", "Nome", "Telefone", "Status", "Mensagem", "Horário"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	ids := make([]string, 0, len(snap.EmployeesStatus))
	for id := range snap.EmployeesStatus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	row := 2
	for _, id := range ids {
		e := snap.EmployeesStatus[id]
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, id)
		write(2, e.Name)
		write(3, e.Phone)
		write(4, string(e.Status))
		write(5, e.Message)
		if !e.Timestamp.IsZero() {
			write(6, e.Timestamp.Format("02/01/2006 15:04:05"))
		}
		row++
	}

	path := filepath.Join(dir, reportName(snap, "xlsx"))
	if err := f.SaveAs(path); err != nil {
		return "", common.WrapError(err, "save report workbook")
	}

	logger.Info("report.xlsx.ok",
		"path", path,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds())
	return path, nil
}

func reportName(snap status.Snapshot, ext string) string {
	stamp := snap.LastUpdate
	if stamp.IsZero() {
		stamp = time.Now()
	}
	return fmt.Sprintf("relatorio_envio_%s.%s", stamp.Format("20060102_150405"), ext)
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

// WritePDF renders the admin summary into dir and returns its path.
// The summary lists totals first, then every failed recipient with the
// recorded reason.
func WritePDF(dir string, snap status.Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", common.WrapError(err, "ensure report directory")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Relatório de Envio de Holerites", false)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, tr("Relatório de Envio de Holerites"))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	if snap.StartTime != nil {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Início: %s", snap.StartTime.Format("02/01/2006 15:04:05"))))
		pdf.Ln(6)
	}
	if snap.EndTime != nil {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Fim: %s", snap.EndTime.Format("02/01/2006 15:04:05"))))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.Cell(0, 6, tr(fmt.Sprintf("Total de colaboradores: %d", snap.TotalEmployees)))
	pdf.Ln(6)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Enviados com sucesso: %d", snap.SuccessfulSends)))
	pdf.Ln(6)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Falhas: %d", snap.FailedSends)))
	pdf.Ln(10)

	failed := failedRows(snap)
	if len(failed) > 0 {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.Cell(0, 8, tr("Falhas"))
		pdf.Ln(10)

		pdf.SetFont("Helvetica", "", 11)
		for _, row := range failed {
			pdf.MultiCell(0, 6, tr(row), "", "L", false)
			pdf.Ln(1)
		}
	}

	path := filepath.Join(dir, reportName(snap, "pdf"))
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", common.WrapError(err, "write report pdf")
	}
	return path, nil
}

func failedRows(snap status.Snapshot) []string {
	ids := make([]string, 0, len(snap.EmployeesStatus))
	for id, e := range snap.EmployeesStatus {
		if e.Status == constants.EmployeeFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rows := make([]string, 0, len(ids))
	for _, id := range ids {
		e := snap.EmployeesStatus[id]
		rows = append(rows, fmt.Sprintf("%s  %s: %s", id, e.Name, e.Message))
	}
	return rows
}

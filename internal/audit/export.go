package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/bqaudit-cli/internal/model"
)

// WriteCSV serializes the ranked records as CSV at path. The artifact is
// written to a temp file in the destination directory and renamed into
// place, so readers never observe a partial file.
func WriteCSV(path string, jobs []model.JobRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*.csv")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(model.ExportColumns); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: write header")
	}
	for i := range jobs {
		if err := w.Write(jobs[i].ExportRow()); err != nil {
			tmp.Close()
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: flush")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "export: replace artifact")
	}
	return nil
}

// WriteXLSX serializes the ranked records as a single-sheet workbook with
// the same column contract as the CSV sink, using the same atomic-replace
// strategy.
func WriteXLSX(path string, jobs []model.JobRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("jobs")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range model.ExportColumns {
		header.AddCell().Value = col
	}
	for i := range jobs {
		row := sheet.AddRow()
		for _, cell := range jobs[i].ExportRow() {
			row.AddCell().Value = cell
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*.xlsx")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: write workbook")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "export: replace artifact")
	}
	return nil
}

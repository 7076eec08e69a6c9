// Package export writes the flat contact snapshot to CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/saribumi/brandreach/internal/model"
)

// Columns is the snapshot header row, one column per SnapshotRow field.
var Columns = []string{
	"brand_name", "category", "size_tier", "channel",
	"normalized_value", "verdict", "confidence", "last_outcome",
}

func rowValues(r model.SnapshotRow) []string {
	return []string{
		r.BrandName,
		r.Category,
		r.SizeTier,
		r.Channel,
		r.NormalizedValue,
		r.Verdict,
		strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		r.LastOutcome,
	}
}

// WriteCSV writes the snapshot as CSV, header first.
func WriteCSV(w io.Writer, rows []model.SnapshotRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(rowValues(r)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the snapshot as a single-sheet XLSX workbook.
func WriteXLSX(path string, rows []model.SnapshotRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("contacts")
	if err != nil {
		return eris.Wrap(err, "export: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().Value = col
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().Value = r.BrandName
		row.AddCell().Value = r.Category
		row.AddCell().Value = r.SizeTier
		row.AddCell().Value = r.Channel
		row.AddCell().Value = r.NormalizedValue
		row.AddCell().Value = r.Verdict
		row.AddCell().SetFloat(r.Confidence)
		row.AddCell().Value = r.LastOutcome
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save xlsx %s", path)
	}
	return nil
}

// WriteFile writes the snapshot to path, choosing the format by extension:
// .xlsx gets a workbook, anything else gets CSV.
func WriteFile(path string, rows []model.SnapshotRow) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

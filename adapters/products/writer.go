package products

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"fluxcov/internal"
	apperrors "fluxcov/internal/errors"
	"fluxcov/ports"
)

// sheetNameLimit is the hard cap Excel places on sheet names.
const sheetNameLimit = 31

// Writer renders the products of one analysis run to disk: a workbook
// carrying the flux prediction, the range-integrated summary tables, the
// eigenvalue spectrum and the matrix binning descriptor, plus one CSV per
// named matrix and vector. Product names may contain slashes; each slash
// becomes a subdirectory under the output directory, so related products
// group the way downstream consumers expect.
//
// The writer formats what it is handed. It never recomputes, rescales or
// reorders: every number lands in the file exactly as it appears in the
// request.
type Writer struct {
	logger *internal.Logger
}

// NewWriter builds a products writer. A nil logger falls back to the
// package default.
func NewWriter(logger *internal.Logger) *Writer {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Writer{logger: logger}
}

// WriteProducts writes the workbook and every CSV product under the
// request's directory, creating it (and any product subdirectories) as
// needed. Matrices and vectors are written in request order so repeated
// runs produce identical trees.
func (w *Writer) WriteProducts(ctx context.Context, req ports.ProductsRequest) (*ports.ProductsResult, error) {
	if req.Directory == "" {
		return nil, apperrors.InvalidInput("products directory is required")
	}
	if err := os.MkdirAll(req.Directory, 0o755); err != nil {
		return nil, apperrors.ExportError(fmt.Sprintf("creating products directory %s", req.Directory), err)
	}

	result := &ports.ProductsResult{}

	if req.WorkbookName != "" {
		path := filepath.Join(req.Directory, req.WorkbookName)
		if filepath.Ext(path) == "" {
			path += ".xlsx"
		}
		if err := w.writeWorkbook(path, req); err != nil {
			return nil, apperrors.ExportError(fmt.Sprintf("writing workbook %s", filepath.Base(path)), err)
		}
		result.WorkbookPath = path
	}

	for _, mp := range req.Matrices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := w.writeMatrixCSV(req.Directory, mp)
		if err != nil {
			return nil, apperrors.ExportError(fmt.Sprintf("writing matrix %s", mp.Name), err)
		}
		result.CSVPaths = append(result.CSVPaths, path)
	}

	for _, vp := range req.Vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := w.writeSeriesCSV(req.Directory, vp)
		if err != nil {
			return nil, apperrors.ExportError(fmt.Sprintf("writing vector %s", vp.Name), err)
		}
		result.CSVPaths = append(result.CSVPaths, path)
	}

	w.logger.Info("Wrote %d product CSVs under %s", len(result.CSVPaths), req.Directory)
	return result, nil
}

// productPath resolves a slash-separated product name to a file path under
// dir, creating intermediate directories.
func productPath(dir, name, ext string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(name)+ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// writeMatrixCSV writes one labeled matrix. The first row carries the
// column keys, the first column the row keys, so the file reads back
// without reference to an external axis definition.
func (w *Writer) writeMatrixCSV(dir string, mp ports.MatrixProduct) (string, error) {
	if mp.Matrix == nil {
		return "", fmt.Errorf("matrix %s is nil", mp.Name)
	}
	path, err := productPath(dir, mp.Name, ".csv")
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	axis := mp.Matrix.Axis
	n := axis.Len()

	header := make([]string, 0, n+1)
	header = append(header, "bin")
	for _, k := range axis.Keys() {
		header = append(header, k.String())
	}
	if err := cw.Write(header); err != nil {
		return "", err
	}

	row := make([]string, n+1)
	for i := 0; i < n; i++ {
		row[0] = axis.At(i).String()
		for j := 0; j < n; j++ {
			row[j+1] = formatValue(mp.Matrix.At(i, j))
		}
		if err := cw.Write(row); err != nil {
			return "", err
		}
	}
	cw.Flush()
	return path, cw.Error()
}

// writeSeriesCSV writes one labeled vector in tidy form, one flavor-energy
// bin per row.
func (w *Writer) writeSeriesCSV(dir string, vp ports.SeriesProduct) (string, error) {
	if vp.Series == nil {
		return "", fmt.Errorf("vector %s is nil", vp.Name)
	}
	path, err := productPath(dir, vp.Name, ".csv")
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if err := cw.Write([]string{"horn_polarity", "neutrino_mode", "bin", "value"}); err != nil {
		return "", err
	}
	for i, k := range vp.Series.Axis.Keys() {
		rec := []string{
			string(k.Horn),
			string(k.Mode),
			strconv.Itoa(k.Bin),
			formatValue(vp.Series.Values[i]),
		}
		if err := cw.Write(rec); err != nil {
			return "", err
		}
	}
	cw.Flush()
	return path, cw.Error()
}

// writeWorkbook assembles the xlsx summary workbook. Sheets appear in a
// fixed order: flux prediction, one sheet per summary table, the
// eigenvalue spectrum, and the binning descriptor.
func (w *Writer) writeWorkbook(path string, req ports.ProductsRequest) error {
	f := excelize.NewFile()

	const predictionSheet = "flux_prediction"
	if err := f.SetSheetName("Sheet1", predictionSheet); err != nil {
		return err
	}
	if err := writePredictionSheet(f, predictionSheet, req); err != nil {
		return err
	}

	for i, summary := range req.Summaries {
		name := sheetName(summary.Title, fmt.Sprintf("summary_%d", i+1))
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
		if err := writeSummarySheet(f, name, summary); err != nil {
			return err
		}
	}

	if len(req.Components) > 0 {
		const pcaSheet = "pca_spectrum"
		if _, err := f.NewSheet(pcaSheet); err != nil {
			return err
		}
		if err := writeComponentSheet(f, pcaSheet, req.Components); err != nil {
			return err
		}
	}

	if req.Descriptor != "" {
		const binningSheet = "binning"
		if _, err := f.NewSheet(binningSheet); err != nil {
			return err
		}
		for i, line := range strings.Split(strings.TrimRight(req.Descriptor, "\n"), "\n") {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			if err := f.SetCellValue(binningSheet, cell, line); err != nil {
				return err
			}
		}
	}

	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func writePredictionSheet(f *excelize.File, sheet string, req ports.ProductsRequest) error {
	headers := []string{"horn_polarity", "neutrino_mode", "bin", "flux", "sigma"}
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	if req.Mean == nil {
		return nil
	}
	for i, k := range req.Mean.Axis.Keys() {
		values := []any{string(k.Horn), string(k.Mode), k.Bin, req.Mean.Values[i]}
		if req.Sigma != nil {
			values = append(values, req.Sigma.Values[i])
		}
		if err := writeRowValues(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, sheet string, summary ports.SummaryProduct) error {
	headers := []string{"source", "horn_polarity", "elow_gev", "ehigh_gev"}
	headers = append(headers, summary.Columns...)
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	for i, row := range summary.Rows {
		values := []any{row.Source, string(row.Horn), summary.ELow, summary.EHigh}
		for _, v := range row.Values {
			values = append(values, v)
		}
		if err := writeRowValues(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writeComponentSheet(f *excelize.File, sheet string, components []ports.ComponentProduct) error {
	if err := writeRow(f, sheet, 1, []string{"rank", "eigenvalue", "fractional", "cumulative"}); err != nil {
		return err
	}
	for i, c := range components {
		values := []any{c.Rank, c.Eigenvalue, c.Fractional, c.Cumulative}
		if err := writeRowValues(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	for c, v := range values {
		cell, _ := excelize.CoordinatesToCellName(c+1, row)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func writeRowValues(f *excelize.File, sheet string, row int, values []any) error {
	for c, v := range values {
		cell, _ := excelize.CoordinatesToCellName(c+1, row)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// sheetName sanitizes a summary title into a legal Excel sheet name.
// Characters Excel forbids become underscores; empty titles take the
// fallback; long names truncate to the 31-character limit.
func sheetName(title, fallback string) string {
	if title == "" {
		title = fallback
	}
	out := []rune(title)
	for i, r := range out {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\', ' ':
			out[i] = '_'
		}
	}
	if len(out) > sheetNameLimit {
		out = out[:sheetNameLimit]
	}
	return string(out)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package spectra

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	apperrors "fluxcov/internal/errors"
	"fluxcov/ports"
)

// potName is the exposure counter every spectra file must carry; its maximum
// flux value is the accumulated protons-on-target the file is normalized by.
const potName = "hpot"

// Reader ingests per-run spectra files (CSV or XLSX, one file per run and
// horn polarity) into the tidy table the systematics engines consume. Flux
// and statistical uncertainty are divided by the file's exposure on read;
// histogram names outside the grammar or rejected by the keep filter are
// dropped with a debug log.
type Reader struct {
	keep   func(string) bool
	logger *internal.Logger
}

// NewReader builds a reader. keep filters histogram names; nil keeps every
// parseable histogram.
func NewReader(keep func(string) bool, logger *internal.Logger) *Reader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Reader{keep: keep, logger: logger}
}

// ReadSpectra reads every spectra file under the sources path, one worker
// per file up to the request's limit, and aggregates the results in file
// name order.
func (r *Reader) ReadSpectra(ctx context.Context, req ports.SpectraRequest) (*ports.SpectraBundle, error) {
	files, err := listSpectraFiles(req.SourcesPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("no spectra files (.csv or .xlsx) under %s", req.SourcesPath))
	}

	limit := req.Workers
	if limit <= 0 {
		limit = len(files)
	}

	results := make([]*fileTable, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			ft, err := r.readFile(path)
			if err != nil {
				return apperrors.Wrapf(err, "spectra file %s", filepath.Base(path))
			}
			results[i] = ft
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle := &ports.SpectraBundle{
		Table: flux.NewTable(0),
		Files: make([]ports.SpectraFile, 0, len(results)),
	}
	for _, ft := range results {
		bundle.Table.AppendTable(ft.table)
		bundle.Files = append(bundle.Files, ft.info)
	}
	r.logger.Info("Read %d spectra files into %d table rows", len(files), bundle.Table.Len())
	return bundle, nil
}

type fileTable struct {
	table *flux.Table
	info  ports.SpectraFile
}

// rawRow is one parsed line of a spectra file before normalization.
type rawRow struct {
	name string
	bin  int
	flux float64
	stat float64
}

func (r *Reader) readFile(path string) (*fileTable, error) {
	runID, horn, err := parseFileName(path)
	if err != nil {
		return nil, err
	}

	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	raw, err := parseRows(rows)
	if err != nil {
		return nil, err
	}

	pot := 0.0
	for _, row := range raw {
		if row.name == potName && row.flux > pot {
			pot = row.flux
		}
	}
	if pot <= 0 {
		return nil, apperrors.InputShape(fmt.Sprintf("no positive exposure (%s) row", potName))
	}

	table := flux.NewTable(len(raw))
	for _, row := range raw {
		if row.name == potName {
			continue
		}
		if r.keep != nil && !r.keep(row.name) {
			continue
		}
		info, ok := parseHistName(row.name)
		if !ok {
			r.logger.Debug("Skipping unrecognized histogram %q in %s", row.name, filepath.Base(path))
			continue
		}
		table.Append(flux.Record{
			Flux:       row.flux / pot,
			StatUncert: row.stat / pot,
			Bin:        row.bin,
			Category:   info.category,
			Mode:       info.mode,
			Horn:       horn,
			RunID:      runID,
			Universe:   info.universe,
		})
	}
	if table.Len() == 0 {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, flux.ErrEmptyTable)
	}

	return &fileTable{
		table: table,
		info: ports.SpectraFile{
			Path:  path,
			RunID: runID,
			Horn:  horn,
			POT:   pot,
			Rows:  table.Len(),
		},
	}, nil
}

// loadRows reads a file into raw string cells, dispatching on extension.
func loadRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to open CSV file")
		}
		defer file.Close()
		rows, err := csv.NewReader(file).ReadAll()
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to read CSV file")
		}
		return rows, nil
	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to open XLSX file")
		}
		defer f.Close()
		rows, err := f.GetRows("Sheet1")
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to read Sheet1")
		}
		return rows, nil
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported spectra file type %q", filepath.Ext(path)))
	}
}

// parseRows converts string cells to typed rows. The schema is
// {name, bin, flux, stat_uncert}; a leading header row is recognized by its
// non-numeric bin column and skipped.
func parseRows(rows [][]string) ([]rawRow, error) {
	out := make([]rawRow, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, apperrors.InputShape(fmt.Sprintf("row %d has %d columns, expected name, bin, flux, stat_uncert", i+1, len(row)))
		}
		name := strings.TrimSpace(row[0])
		bin, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, apperrors.InputShape(fmt.Sprintf("row %d has a non-integer bin %q", i+1, row[1]))
		}
		fluxVal, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, apperrors.InputShape(fmt.Sprintf("row %d has a non-numeric flux %q", i+1, row[2]))
		}
		stat, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, apperrors.InputShape(fmt.Sprintf("row %d has a non-numeric stat_uncert %q", i+1, row[3]))
		}
		out = append(out, rawRow{name: name, bin: bin, flux: fluxVal, stat: stat})
	}
	if len(out) == 0 {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, flux.ErrEmptyTable)
	}
	return out, nil
}

// listSpectraFiles returns the spectra files directly under dir, sorted by
// name so aggregation order never depends on directory iteration.
func listSpectraFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list sources directory %s", dir)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".csv", ".xlsx":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

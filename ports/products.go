package ports

import (
	"context"

	"fluxcov/domain/flux"
)

// MatrixProduct is one named covariance or correlation matrix to export.
type MatrixProduct struct {
	Name   string
	Matrix *flux.Matrix
}

// SeriesProduct is one named per-bin vector to export.
type SeriesProduct struct {
	Name   string
	Series *flux.Series
}

// ComponentProduct summarizes one retained principal component.
type ComponentProduct struct {
	Rank       int
	Eigenvalue float64
	Fractional float64
	Cumulative float64
}

// SummaryRowProduct is one source's row of a range-integrated summary table.
type SummaryRowProduct struct {
	Source string
	Horn   flux.HornPolarity
	Values []float64
}

// SummaryProduct is one range-integrated uncertainty table.
type SummaryProduct struct {
	Title   string
	ELow    float64
	EHigh   float64
	Columns []string
	Rows    []SummaryRowProduct
}

// ProductsRequest carries every named product of one analysis run. The
// writer formats; it never computes.
type ProductsRequest struct {
	Directory    string
	WorkbookName string
	Descriptor   string
	Mean         *flux.Series
	Sigma        *flux.Series
	Summaries    []SummaryProduct
	Components   []ComponentProduct
	Matrices     []MatrixProduct
	Vectors      []SeriesProduct
}

// ProductsResult reports what was written where.
type ProductsResult struct {
	WorkbookPath string
	CSVPaths     []string
}

// ProductsWriterPort renders analysis products to files.
type ProductsWriterPort interface {
	WriteProducts(ctx context.Context, req ProductsRequest) (*ProductsResult, error)
}

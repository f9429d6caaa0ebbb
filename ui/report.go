package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"

	apperrors "fluxcov/internal/errors"
	"fluxcov/internal/hadron"
	"fluxcov/ports"
)

const (
	// MarkdownFileName and HTMLFileName are the report files each run
	// drops in its products directory.
	MarkdownFileName = "report.md"
	HTMLFileName     = "report.html"

	// maxReportComponents caps the eigenvalue table.
	maxReportComponents = 10
	// maxReportOutliers caps the universe-fit outlier table.
	maxReportOutliers = 8
	// outlierChi2Cut marks a universe distribution as poorly Gaussian.
	outlierChi2Cut = 1.5
)

// ReportData carries everything the run report shows. The report renders
// what it is handed; nothing here is recomputed.
type ReportData struct {
	RunID        string
	GeneratedAt  time.Time
	SourcesPath  string
	NominalRun   int
	PCAThreshold float64
	AxisLen      int
	Universes    int
	Warnings     int64
	DurationMS   int64

	Categories     []string
	BeamCategories []string

	TotalRank  int
	Components []ports.ComponentProduct
	Summaries  []ports.SummaryProduct
	Fits       []hadron.UniverseFit
}

// BuildReportMarkdown renders the run report as markdown.
func BuildReportMarkdown(data ReportData) string {
	var b strings.Builder

	b.WriteString("# Flux Uncertainty Report\n\n")
	fmt.Fprintf(&b, "- **Run:** `%s`\n", data.RunID)
	fmt.Fprintf(&b, "- **Generated:** %s\n", data.GeneratedAt.UTC().Format(time.RFC3339))
	if data.SourcesPath != "" {
		fmt.Fprintf(&b, "- **Sources:** `%s`\n", data.SourcesPath)
	}
	fmt.Fprintf(&b, "- **Nominal run:** %d\n", data.NominalRun)
	fmt.Fprintf(&b, "- **PCA threshold:** %g\n", data.PCAThreshold)
	fmt.Fprintf(&b, "- **Flavor-energy bins:** %d\n", data.AxisLen)
	fmt.Fprintf(&b, "- **Universes (total):** %d\n", data.Universes)
	fmt.Fprintf(&b, "- **Warnings:** %d\n", data.Warnings)
	fmt.Fprintf(&b, "- **Duration:** %d ms\n", data.DurationMS)
	b.WriteString("\n")

	writeCategories(&b, data)
	writeSummaries(&b, data.Summaries)
	writeComponents(&b, data)
	writeOutliers(&b, data.Fits)

	return b.String()
}

func writeCategories(b *strings.Builder, data ReportData) {
	if len(data.Categories) == 0 && len(data.BeamCategories) == 0 {
		return
	}
	b.WriteString("## Uncertainty sources\n\n")
	if len(data.Categories) > 0 {
		fmt.Fprintf(b, "Hadron production: %s\n\n", codeList(data.Categories))
	}
	if len(data.BeamCategories) > 0 {
		fmt.Fprintf(b, "Beam focusing: %s\n\n", codeList(data.BeamCategories))
	}
}

func writeSummaries(b *strings.Builder, summaries []ports.SummaryProduct) {
	if len(summaries) == 0 {
		return
	}
	b.WriteString("## Range-integrated uncertainties (%)\n\n")
	for _, s := range summaries {
		fmt.Fprintf(b, "### %s (%g to %g GeV)\n\n", s.Title, s.ELow, s.EHigh)

		header := append([]string{"source"}, s.Columns...)
		b.WriteString("| " + strings.Join(header, " | ") + " |\n")
		b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
		for _, row := range s.Rows {
			cells := make([]string, 0, len(header))
			cells = append(cells, row.Source)
			for _, v := range row.Values {
				cells = append(cells, fmt.Sprintf("%.2f", v*100))
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		b.WriteString("\n")
	}
}

func writeComponents(b *strings.Builder, data ReportData) {
	if len(data.Components) == 0 {
		return
	}
	b.WriteString("## Principal components\n\n")
	fmt.Fprintf(b, "Retained %d of %d components.\n\n", len(data.Components), data.TotalRank)
	b.WriteString("| rank | eigenvalue | fraction | cumulative |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	shown := data.Components
	if len(shown) > maxReportComponents {
		shown = shown[:maxReportComponents]
	}
	for _, c := range shown {
		fmt.Fprintf(b, "| %d | %.4e | %.4f | %.4f |\n", c.Rank, c.Eigenvalue, c.Fractional, c.Cumulative)
	}
	if len(data.Components) > maxReportComponents {
		fmt.Fprintf(b, "\n…and %d more retained components.\n", len(data.Components)-maxReportComponents)
	}
	b.WriteString("\n")
}

func writeOutliers(b *strings.Builder, fits []hadron.UniverseFit) {
	if len(fits) == 0 {
		return
	}

	chi2 := make([]float64, len(fits))
	outliers := make([]hadron.UniverseFit, 0)
	for i, f := range fits {
		chi2[i] = f.Chi2PerNDF()
		if f.Chi2PerNDF() > outlierChi2Cut {
			outliers = append(outliers, f)
		}
	}
	sort.Slice(outliers, func(i, j int) bool {
		return outliers[i].Chi2PerNDF() > outliers[j].Chi2PerNDF()
	})
	if len(outliers) > maxReportOutliers {
		outliers = outliers[:maxReportOutliers]
	}

	b.WriteString("## Universe distribution fits\n\n")
	if median, err := stats.Median(chi2); err == nil {
		p95, _ := stats.Percentile(chi2, 95)
		fmt.Fprintf(b, "Gaussian fits over %d bins: median chi2/ndf %.2f, 95th percentile %.2f.\n\n",
			len(fits), median, p95)
	}
	if len(outliers) == 0 {
		fmt.Fprintf(b, "All %d bins fit a Gaussian with chi2/ndf below %g.\n\n", len(fits), outlierChi2Cut)
		return
	}

	fmt.Fprintf(b, "Bins with chi2/ndf above %g:\n\n", outlierChi2Cut)
	b.WriteString("| bin | universes | mean | fit mean | sigma | fit sigma | chi2/ndf |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- |\n")
	for _, f := range outliers {
		fmt.Fprintf(b, "| %s | %d | %.4g | %.4g | %.4g | %.4g | %.2f |\n",
			f.Key, f.Universes, f.UniverseMean, f.FitMean, f.UniverseSigma, f.FitSigma, f.Chi2PerNDF())
	}
	b.WriteString("\n")
}

func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + s + "`"
	}
	return strings.Join(quoted, ", ")
}

// RenderHTML converts report markdown into a complete HTML page.
func RenderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: "Flux Uncertainty Report",
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(md), p, renderer)
}

// WriteReport writes report.md and report.html into dir and returns their
// paths.
func WriteReport(dir string, data ReportData) (mdPath, htmlPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", apperrors.ExportError(fmt.Sprintf("creating report directory %s", dir), err)
	}

	md := BuildReportMarkdown(data)
	mdPath = filepath.Join(dir, MarkdownFileName)
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return "", "", apperrors.ExportError("writing report markdown", err)
	}

	htmlPath = filepath.Join(dir, HTMLFileName)
	if err := os.WriteFile(htmlPath, RenderHTML(md), 0o644); err != nil {
		return "", "", apperrors.ExportError("writing report html", err)
	}
	return mdPath, htmlPath, nil
}

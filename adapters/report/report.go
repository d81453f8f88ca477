package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"detectpd/internal"
	"detectpd/internal/errors"
	"detectpd/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

const (
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// Writer renders an evaluation report as Markdown and converts it to a
// standalone HTML page.
type Writer struct {
	logger *internal.Logger
}

var _ ports.ReportWriterPort = (*Writer)(nil)

func NewWriter(logger *internal.Logger) *Writer {
	return &Writer{logger: logger.With("Report")}
}

// WriteReport writes report.md and report.html into dir.
func (w *Writer) WriteReport(ctx context.Context, dir string, report ports.Report) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.ExternalServiceError("report writer", fmt.Errorf("failed to create report directory: %w", err))
	}

	md := RenderMarkdown(dir, report)
	mdPath := filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(mdPath, md, 0o644); err != nil {
		return nil, errors.ExternalServiceError("report writer", fmt.Errorf("failed to write %s: %w", mdPath, err))
	}

	htmlPath := filepath.Join(dir, HTMLFile)
	if err := os.WriteFile(htmlPath, ToHTML(md, report.Title), 0o644); err != nil {
		return nil, errors.ExternalServiceError("report writer", fmt.Errorf("failed to write %s: %w", htmlPath, err))
	}
	w.logger.Info("wrote report for %d target(s) to %s", len(report.Sections), dir)
	return []string{mdPath, htmlPath}, nil
}

// RenderMarkdown lays out the report. Plot links are made relative to dir
// so the report stays valid when the directory is moved.
func RenderMarkdown(dir string, report ports.Report) []byte {
	var b bytes.Buffer
	title := report.Title
	if title == "" {
		title = "Evaluation report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if report.RunName != "" || report.RunID != "" {
		fmt.Fprintf(&b, "Run **%s** (`%s`)\n\n", report.RunName, report.RunID)
	}
	if len(report.Sections) == 0 {
		b.WriteString("No targets were evaluated.\n")
		return b.Bytes()
	}

	for _, s := range report.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Target)
		if s.BestModel != "" {
			fmt.Fprintf(&b, "Best model by %s: **%s**\n\n", s.ComparisonMetric, s.BestModel)
		}
		if len(s.Rows) > 0 {
			writeTable(&b, s)
		}
		if len(s.SelectedFeatures) > 0 {
			fmt.Fprintf(&b, "Selected features (%d): %s\n\n", len(s.SelectedFeatures), strings.Join(s.SelectedFeatures, ", "))
		}
		for _, p := range s.Plots {
			rel := p
			if r, err := filepath.Rel(dir, p); err == nil {
				rel = filepath.ToSlash(r)
			}
			name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
			fmt.Fprintf(&b, "![%s](%s)\n\n", name, rel)
		}
	}
	return b.Bytes()
}

func writeTable(b *bytes.Buffer, s ports.ReportSection) {
	b.WriteString("| Model |")
	for _, m := range s.MetricNames {
		fmt.Fprintf(b, " %s |", m)
	}
	b.WriteString("\n|---|")
	for range s.MetricNames {
		b.WriteString("---:|")
	}
	b.WriteString("\n")
	for _, row := range s.Rows {
		name := row.Model
		if name == s.BestModel {
			name = "**" + name + "**"
		}
		fmt.Fprintf(b, "| %s |", name)
		for i := range s.MetricNames {
			v := math.NaN()
			if i < len(row.Values) {
				v = row.Values[i]
			}
			fmt.Fprintf(b, " %s |", formatValue(v))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

// ToHTML converts report Markdown into a complete HTML page.
func ToHTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
		Title: title,
	})
	return markdown.ToHTML(md, p, r)
}

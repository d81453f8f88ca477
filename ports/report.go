package ports

import "context"

// Report is the rendered summary of one run's evaluation.
type Report struct {
	Title    string
	RunID    string
	RunName  string
	Sections []ReportSection
}

// ReportSection covers one target.
type ReportSection struct {
	Target           string
	BestModel        string
	ComparisonMetric string
	MetricNames      []string
	Rows             []ReportRow
	SelectedFeatures []string
	Plots            []string
}

// ReportRow is one model's test metrics, aligned with MetricNames.
type ReportRow struct {
	Model  string
	Values []float64
}

// ReportWriterPort writes a report into dir and returns the written paths.
type ReportWriterPort interface {
	WriteReport(ctx context.Context, dir string, report Report) ([]string, error)
}

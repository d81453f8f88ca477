package ports

// Bar is one labelled value of a bar chart.
type Bar struct {
	Label string
	Value float64
}

// LassoCurve is the cross-validated error of a lasso path.
type LassoCurve struct {
	Target       string
	Alphas       []float64
	MeanMSE      []float64
	OptimalAlpha float64
}

// CalibrationSeries is one model's predictions against the observed values.
type CalibrationSeries struct {
	Model     string
	Observed  []float64
	Predicted []float64
}

// PlotRendererPort renders charts to image files. Every method writes to
// path, creating parent directories as needed.
type PlotRendererPort interface {
	RenderLassoCurve(path string, curve LassoCurve) error
	RenderImportance(path, title string, bars []Bar) error
	RenderDiscrimination(path, target, metric string, bars []Bar) error
	RenderCalibration(path, target string, series []CalibrationSeries) error
}

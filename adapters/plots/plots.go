package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"detectpd/domain/core"
	"detectpd/internal"
	"detectpd/internal/errors"
	"detectpd/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

const (
	defaultWidth  = 8 * vg.Inch
	defaultHeight = 6 * vg.Inch
)

// Renderer draws pipeline charts with gonum/plot. The output format follows
// the file extension (png, svg, pdf).
type Renderer struct {
	width  vg.Length
	height vg.Length
	logger *internal.Logger
}

var _ ports.PlotRendererPort = (*Renderer)(nil)

// NewRenderer creates a renderer producing 8x6 inch images.
func NewRenderer(logger *internal.Logger) *Renderer {
	return &Renderer{width: defaultWidth, height: defaultHeight, logger: logger.With("Plots")}
}

// RenderLassoCurve plots mean cross-validated MSE against log10(alpha) and
// marks the selected alpha with a dashed vertical line.
func (r *Renderer) RenderLassoCurve(path string, curve ports.LassoCurve) error {
	if len(curve.Alphas) != len(curve.MeanMSE) {
		return core.NewDimensionError("lasso curve", len(curve.Alphas), len(curve.MeanMSE))
	}
	pts := make(plotter.XYs, 0, len(curve.Alphas))
	for i, a := range curve.Alphas {
		if a <= 0 || !finite(curve.MeanMSE[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: math.Log10(a), Y: curve.MeanMSE[i]})
	}
	if len(pts) == 0 {
		return core.NewInvalidInputError("lasso curve", "no finite points to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("LassoCV path (%s)", curve.Target)
	p.X.Label.Text = "log10(alpha)"
	p.Y.Label.Text = "Mean CV MSE"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("lasso curve line: %w", err)
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("mean MSE", line)

	if curve.OptimalAlpha > 0 {
		ys := make([]float64, len(pts))
		for i, pt := range pts {
			ys[i] = pt.Y
		}
		x := math.Log10(curve.OptimalAlpha)
		marker, err := plotter.NewLine(plotter.XYs{{X: x, Y: floats.Min(ys)}, {X: x, Y: floats.Max(ys)}})
		if err != nil {
			return fmt.Errorf("lasso curve marker: %w", err)
		}
		marker.Color = plotutil.Color(1)
		marker.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(marker)
		p.Legend.Add(fmt.Sprintf("alpha = %.4g", curve.OptimalAlpha), marker)
	}
	p.Legend.Top = true

	return r.save(p, path)
}

// RenderImportance draws one bar per feature.
func (r *Renderer) RenderImportance(path, title string, bars []ports.Bar) error {
	p, err := r.barPlot(title, "Feature", "Importance", bars)
	if err != nil {
		return err
	}
	return r.save(p, path)
}

// RenderDiscrimination draws one bar per model with its value of metric.
func (r *Renderer) RenderDiscrimination(path, target, metric string, bars []ports.Bar) error {
	title := fmt.Sprintf("Model comparison for %s", target)
	p, err := r.barPlot(title, "Model", metric, bars)
	if err != nil {
		return err
	}
	return r.save(p, path)
}

// RenderCalibration scatters predicted against observed values for every
// model and overlays the identity line.
func (r *Renderer) RenderCalibration(path, target string, series []ports.CalibrationSeries) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration for %s", target)
	p.X.Label.Text = "Observed"
	p.Y.Label.Text = "Predicted"
	p.Add(plotter.NewGrid())

	lo, hi := math.Inf(1), math.Inf(-1)
	drawn := 0
	for i, s := range series {
		if len(s.Observed) != len(s.Predicted) {
			return core.NewDimensionError("calibration series "+s.Model, len(s.Observed), len(s.Predicted))
		}
		pts := make(plotter.XYs, 0, len(s.Observed))
		for j, obs := range s.Observed {
			pred := s.Predicted[j]
			if !finite(obs) || !finite(pred) {
				continue
			}
			pts = append(pts, plotter.XY{X: obs, Y: pred})
			lo = math.Min(lo, math.Min(obs, pred))
			hi = math.Max(hi, math.Max(obs, pred))
		}
		if len(pts) == 0 {
			r.logger.Debug("calibration series %s has no finite points", s.Model)
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("calibration scatter %s: %w", s.Model, err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Shape = plotutil.Shape(i)
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add(s.Model, sc)
		drawn++
	}
	if drawn == 0 {
		return core.NewInvalidInputError("calibration", "no finite points to plot")
	}

	identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return fmt.Errorf("calibration identity: %w", err)
	}
	identity.Color = color.Gray{Y: 96}
	identity.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(identity)
	p.Legend.Top = true
	p.Legend.Left = true

	return r.save(p, path)
}

func (r *Renderer) barPlot(title, xLabel, yLabel string, bars []ports.Bar) (*plot.Plot, error) {
	if len(bars) == 0 {
		return nil, core.NewInvalidInputError("bar chart", "no bars to plot")
	}
	values := make(plotter.Values, len(bars))
	names := make([]string, len(bars))
	for i, b := range bars {
		v := b.Value
		if !finite(v) {
			v = 0
		}
		values[i] = v
		names[i] = b.Label
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	chart, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	chart.Color = plotutil.Color(0)
	chart.LineStyle.Width = vg.Length(0)
	p.Add(chart)
	p.NominalX(names...)
	if len(names) > 8 {
		p.X.Tick.Label.Rotation = math.Pi / 4
		p.X.Tick.Label.XAlign = text.XRight
	}
	return p, nil
}

func (r *Renderer) save(p *plot.Plot, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.ExternalServiceError("plot renderer", fmt.Errorf("failed to create plot directory: %w", err))
		}
	}
	if err := p.Save(r.width, r.height, path); err != nil {
		return errors.ExternalServiceError("plot renderer", fmt.Errorf("failed to save plot %s: %w", path, err))
	}
	r.logger.Debug("wrote %s", path)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

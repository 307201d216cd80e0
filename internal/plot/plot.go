// Package plot renders single-variable function graphs to PNG for replies.
package plot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"mathbot/internal/domain"
)

const (
	defaultPoints = 500
	maxPoints     = 5000
	maxExprLen    = 256
	defaultXMin   = -10
	defaultXMax   = 10
)

var (
	ErrEmptyFunction = errors.New("empty function")
	ErrInvalidRange  = errors.New("invalid x range")
	ErrNoFinitePoint = errors.New("function has no finite values in range")
)

// prefixes accepted for familiarity with numpy/math-style expressions.
var modulePrefix = regexp.MustCompile(`\b(?:np|numpy|math)\.`)

// Plotter renders domain.PlotRequest values with gonum/plot.
type Plotter struct {
	width  vg.Length
	height vg.Length
	logger *slog.Logger
}

type Config struct {
	WidthInches  float64
	HeightInches float64
	Logger       *slog.Logger
}

func New(cfg Config) *Plotter {
	if cfg.WidthInches <= 0 {
		cfg.WidthInches = 8
	}
	if cfg.HeightInches <= 0 {
		cfg.HeightInches = 5
	}
	return &Plotter{
		width:  vg.Length(cfg.WidthInches) * vg.Inch,
		height: vg.Length(cfg.HeightInches) * vg.Inch,
		logger: cfg.Logger,
	}
}

// Render samples req.Function over [XMin, XMax] and draws it as a PNG.
func (p *Plotter) Render(ctx context.Context, req domain.PlotRequest) (*domain.Attachment, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}
	fn, err := Compile(req.Function)
	if err != nil {
		return nil, err
	}

	pts := make(plotter.XYs, 0, req.Points)
	step := (req.XMax - req.XMin) / float64(req.Points-1)
	for i := 0; i < req.Points; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		x := req.XMin + float64(i)*step
		y, err := fn(x)
		if err != nil {
			return nil, fmt.Errorf("evaluate at x=%g: %w", x, err)
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	if len(pts) == 0 {
		return nil, ErrNoFinitePoint
	}

	pl := plot.New()
	pl.Title.Text = "f(x) = " + req.Function
	pl.X.Label.Text = "x"
	pl.Y.Label.Text = "f(x)"
	pl.X.Min, pl.X.Max = req.XMin, req.XMax
	pl.Add(plotter.NewGrid())

	axis, err := plotter.NewLine(plotter.XYs{{X: req.XMin, Y: 0}, {X: req.XMax, Y: 0}})
	if err != nil {
		return nil, fmt.Errorf("axis: %w", err)
	}
	axis.Color = color.Gray{Y: 160}
	pl.Add(axis)

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1.5)
	pl.Add(line)

	w, err := pl.WriterTo(p.width, p.height, "png")
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	if p.logger != nil {
		p.logger.Debug("plot rendered", "function", req.Function, "points", len(pts), "bytes", buf.Len())
	}
	return &domain.Attachment{
		Filename: "plot.png",
		Title:    "Plot of f(x) = " + req.Function,
		MimeType: "image/png",
		Data:     buf.Bytes(),
	}, nil
}

func normalize(req domain.PlotRequest) (domain.PlotRequest, error) {
	req.Function = strings.TrimSpace(req.Function)
	if req.Function == "" {
		return req, ErrEmptyFunction
	}
	if len(req.Function) > maxExprLen {
		return req, fmt.Errorf("function longer than %d characters", maxExprLen)
	}
	if req.XMin == 0 && req.XMax == 0 {
		req.XMin, req.XMax = defaultXMin, defaultXMax
	}
	if math.IsNaN(req.XMin) || math.IsNaN(req.XMax) || math.IsInf(req.XMin, 0) || math.IsInf(req.XMax, 0) || req.XMin >= req.XMax {
		return req, fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, req.XMin, req.XMax)
	}
	if req.Points <= 1 {
		req.Points = defaultPoints
	}
	if req.Points > maxPoints {
		req.Points = maxPoints
	}
	return req, nil
}

// Compile parses a function of x such as "x**2 + 2*x - 3" or "np.sin(x)/x".
func Compile(src string) (func(x float64) (float64, error), error) {
	src = modulePrefix.ReplaceAllString(strings.TrimSpace(src), "")
	if src == "" {
		return nil, ErrEmptyFunction
	}

	env := newEnv(0)
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}

	var machine vm.VM
	return func(x float64) (float64, error) {
		env["x"] = x
		out, err := machine.Run(program, env)
		if err != nil {
			return 0, err
		}
		return toFloat(out)
	}, nil
}

func newEnv(x float64) map[string]any {
	return map[string]any{
		"x":     x,
		"pi":    math.Pi,
		"e":     math.E,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
		"sinh":  math.Sinh,
		"cosh":  math.Cosh,
		"tanh":  math.Tanh,
		"exp":   math.Exp,
		"log":   math.Log,
		"log2":  math.Log2,
		"log10": math.Log10,
		"sqrt":  math.Sqrt,
		"fabs":  math.Abs,
		"pow":   math.Pow,
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression returned %T, want a number", v)
	}
}

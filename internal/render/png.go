// Package render draws an overlay frame as a static PNG for clients that
// cannot run a chart library.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"ewsreplay/internal/model"
)

var ErrNothingToDraw = errors.New("frame has no visible points")

const (
	DefaultWidth  = 960
	DefaultHeight = 480
)

var palette = map[string]drawing.Color{
	"green":   {R: 46, G: 160, B: 67, A: 255},
	"red":     {R: 220, G: 38, B: 38, A: 255},
	"darkred": {R: 139, G: 0, B: 0, A: 255},
	"gray":    {R: 128, G: 128, B: 128, A: 255},
	"blue":    {R: 37, G: 99, B: 235, A: 255},
	"purple":  {R: 128, G: 0, B: 128, A: 255},
	"orange":  {R: 255, G: 165, B: 0, A: 255},
	"black":   {R: 0, G: 0, B: 0, A: 255},
}

// PNG writes ov to w. Vertical line annotations span the y range of the
// visible series; point and label annotations become chart annotations.
func PNG(w io.Writer, title string, ov model.Overlay, width, height int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	minY, maxY, ok := yRange(ov)
	if !ok {
		return ErrNothingToDraw
	}

	var series []chart.Series
	for _, s := range ov.Series {
		if len(s.Points) == 0 {
			continue
		}
		series = append(series, continuous(s.Name, s.Points, seriesStyle(s.Style)))
	}

	keys := make([]string, 0, len(ov.Annotations))
	for k := range ov.Annotations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var labels []chart.Value2
	for _, k := range keys {
		a := ov.Annotations[k]
		switch a.Kind {
		case model.AnnotationLine:
			st := chart.Style{StrokeColor: color(a.Color), StrokeWidth: 1, StrokeDashArray: dash(a.Dash)}
			series = append(series, chart.ContinuousSeries{
				Name:    firstLine(a.Content),
				XValues: []float64{a.X, a.X},
				YValues: []float64{minY, maxY},
				Style:   st,
			})
			if a.Content != "" {
				labels = append(labels, chart.Value2{XValue: a.X, YValue: maxY, Label: firstLine(a.Content)})
			}
		default:
			labels = append(labels, chart.Value2{XValue: a.X, YValue: a.Y, Label: annotationLabel(k, a)})
		}
	}
	if len(labels) > 0 {
		series = append(series, chart.AnnotationSeries{Annotations: labels})
	}

	ch := chart.Chart{
		Title:      title,
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 24, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{Name: "Seconds"},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: minY, Max: maxY}},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	return nil
}

// continuous pads single-point series to two x values; go-chart cannot range
// a series of one.
func continuous(name string, pts []model.Point, st chart.Style) chart.ContinuousSeries {
	xs := make([]float64, 0, len(pts)+1)
	ys := make([]float64, 0, len(pts)+1)
	for _, p := range pts {
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0]+1)
		ys = append(ys, ys[0])
	}
	return chart.ContinuousSeries{Name: name, XValues: xs, YValues: ys, Style: st}
}

func seriesStyle(s model.Style) chart.Style {
	c := color(s.Color)
	if s.Kind == model.SeriesMarker {
		dot := float64(s.Radius)
		if dot <= 0 {
			dot = 4
		}
		return chart.Style{StrokeWidth: 0, StrokeColor: drawing.ColorTransparent, DotWidth: dot, DotColor: c}
	}
	width := float64(s.Width)
	if width <= 0 {
		width = 1
	}
	return chart.Style{StrokeColor: c, StrokeWidth: width}
}

func yRange(ov model.Overlay) (float64, float64, bool) {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range ov.Series {
		for _, p := range s.Points {
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if math.IsInf(minY, 1) {
		return 0, 0, false
	}
	if minY == maxY {
		minY, maxY = minY-1, maxY+1
	}
	return minY, maxY, true
}

func color(name string) drawing.Color {
	name = strings.ToLower(strings.TrimSpace(name))
	if c, ok := palette[name]; ok {
		return c
	}
	if strings.HasPrefix(name, "#") {
		return drawing.ColorFromHex(strings.TrimPrefix(name, "#"))
	}
	var h, s, l float64
	if _, err := fmt.Sscanf(name, "hsl(%g, %g%%, %g%%)", &h, &s, &l); err == nil {
		return hsl(h, s/100, l/100)
	}
	return palette["gray"]
}

func hsl(h, s, l float64) drawing.Color {
	c := (1 - math.Abs(2*l-1)) * s
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g = c, x
	case hp < 2:
		r, g = x, c
	case hp < 3:
		g, b = c, x
	case hp < 4:
		g, b = x, c
	case hp < 5:
		r, b = x, c
	default:
		r, b = c, x
	}
	m := l - c/2
	to := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return drawing.Color{R: to(r), G: to(g), B: to(b), A: 255}
}

func dash(d []int) []float64 {
	if len(d) == 0 {
		return nil
	}
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = float64(v)
	}
	return out
}

func annotationLabel(key string, a model.Annotation) string {
	if a.Content != "" {
		return firstLine(a.Content)
	}
	return key
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

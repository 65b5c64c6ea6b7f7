package render

import (
	"bytes"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

// Options controls how a scene is rasterized.
type Options struct {
	Style  Style
	View   View
	Width  vg.Length
	Height vg.Length
	DPI    int
}

// DefaultOptions renders a 10x8 inch annotated figure at 100 dpi.
func DefaultOptions() Options {
	return Options{
		Style:  StyleAnnotated,
		View:   DefaultView,
		Width:  10 * vg.Inch,
		Height: 8 * vg.Inch,
		DPI:    100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.View == (View{}) {
		o.View = d.View
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.DPI <= 0 {
		o.DPI = d.DPI
	}
	return o
}

// Render builds the scene for r and returns it as PNG bytes. The output
// depends only on r and opts.
func Render(r reading.Reading, opts Options) ([]byte, error) {
	scene, err := BuildScene(r, opts.Style)
	if err != nil {
		return nil, err
	}
	return Rasterize(scene, opts)
}

var (
	frameStyle = draw.LineStyle{Color: color.Gray{Y: 200}, Width: vg.Points(0.5)}
	magnetFill = color.NRGBA{R: 0, G: 0, B: 255, A: 77}
	magnetEdge = draw.LineStyle{Color: color.NRGBA{R: 0, G: 0, B: 160, A: 160}, Width: vg.Points(0.5)}

	segmentStyles = map[SegmentKind]draw.LineStyle{
		SegmentSurfaceEdge: {Color: color.Black, Width: vg.Points(2), Dashes: []vg.Length{vg.Points(6), vg.Points(3)}},
		SegmentVertical:    {Color: color.Gray{Y: 128}, Width: vg.Points(1), Dashes: []vg.Length{vg.Points(4), vg.Points(3)}},
		SegmentProjection:  {Color: color.Gray{Y: 150}, Width: vg.Points(1), Dashes: []vg.Length{vg.Points(2), vg.Points(2)}},
	}

	markerStyles = map[MarkerKind]draw.GlyphStyle{
		MarkerProbe:      {Color: color.RGBA{R: 220, A: 255}, Radius: vg.Points(7), Shape: draw.CircleGlyph{}},
		MarkerSurface:    {Color: color.NRGBA{A: 179}, Radius: vg.Points(4), Shape: draw.CircleGlyph{}},
		MarkerProjection: {Color: color.Gray{Y: 90}, Radius: vg.Points(3), Shape: draw.CircleGlyph{}},
	}
)

// boxEdges index r3.Box.Vertices.
var boxEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// boxFaces index r3.Box.Vertices.
var boxFaces = [6][4]int{
	{0, 1, 2, 3}, {4, 5, 6, 7},
	{0, 1, 5, 4}, {3, 2, 6, 7},
	{0, 3, 7, 4}, {1, 2, 6, 5},
}

// flat hides a plotter's data range and glyph boxes from the plot so that
// the frame and padding never depend on where the probe is.
type flat struct{ plot.Plotter }

type figure struct {
	p    *plot.Plot
	proj projector
}

// Rasterize draws a scene and encodes it as PNG.
func Rasterize(s Scene, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	f := &figure{p: plot.New(), proj: opts.View.projector(s.Bounds)}
	f.p.Title.Text = s.Title
	f.p.Title.TextStyle.Font.Size = vg.Points(14)
	f.p.HideAxes()

	for _, step := range []func(Scene) error{
		f.drawFrame,
		f.drawMagnet,
		f.drawAxes,
		f.drawSegments,
		f.drawMarkers,
		f.drawLabels,
	} {
		if err := step(s); err != nil {
			return nil, fmt.Errorf("failed to build figure: %w", err)
		}
	}
	f.fit(opts)

	c := vgimg.NewWith(vgimg.UseWH(opts.Width, opts.Height), vgimg.UseDPI(opts.DPI))
	f.p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *figure) xy(v r3.Vec) plotter.XY {
	x, y, _ := f.proj.project(v)
	return plotter.XY{X: x, Y: y}
}

func (f *figure) line(sty draw.LineStyle, pts ...r3.Vec) error {
	xys := make(plotter.XYs, len(pts))
	for i, v := range pts {
		xys[i] = f.xy(v)
	}
	l, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	l.LineStyle = sty
	f.p.Add(flat{l})
	return nil
}

func (f *figure) labels(at []r3.Vec, texts []string, size vg.Length, xa text.XAlignment, ya text.YAlignment, off vg.Point) error {
	if len(at) == 0 {
		return nil
	}
	xys := make(plotter.XYs, len(at))
	for i, v := range at {
		xys[i] = f.xy(v)
	}
	l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return err
	}
	for i := range l.TextStyle {
		l.TextStyle[i].Font = font.From(plot.DefaultFont, size)
		l.TextStyle[i].XAlign = xa
		l.TextStyle[i].YAlign = ya
	}
	l.Offset = off
	f.p.Add(flat{l})
	return nil
}

func (f *figure) drawFrame(s Scene) error {
	v := s.Bounds.Vertices()
	for _, e := range boxEdges {
		if err := f.line(frameStyle, v[e[0]], v[e[1]]); err != nil {
			return err
		}
	}
	return nil
}

// drawMagnet fills the magnet faces back to front.
func (f *figure) drawMagnet(s Scene) error {
	v := s.Magnet.Vertices()
	type face struct {
		ring  plotter.XYs
		depth float64
	}
	faces := make([]face, 0, len(boxFaces))
	for _, idx := range boxFaces {
		var fc face
		for _, i := range idx {
			x, y, d := f.proj.project(v[i])
			fc.ring = append(fc.ring, plotter.XY{X: x, Y: y})
			fc.depth += d / float64(len(idx))
		}
		faces = append(faces, fc)
	}
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].depth < faces[j].depth })

	for _, fc := range faces {
		poly, err := plotter.NewPolygon(fc.ring)
		if err != nil {
			return err
		}
		poly.Color = magnetFill
		poly.LineStyle = magnetEdge
		f.p.Add(flat{poly})
	}
	return nil
}

// drawAxes labels the front bottom edges with X and Y ticks and the right
// vertical edge with Z ticks.
func (f *figure) drawAxes(s Scene) error {
	b := s.Bounds

	at := func(ticks []Tick, pos func(t float64) r3.Vec) ([]r3.Vec, []string) {
		pts := make([]r3.Vec, len(ticks))
		txt := make([]string, len(ticks))
		for i, t := range ticks {
			pts[i] = pos(t.Value)
			txt[i] = t.Text
		}
		return pts, txt
	}

	xs, xt := at(s.XTicks, func(t float64) r3.Vec { return r3.Vec{X: t, Y: b.Max.Y, Z: b.Min.Z} })
	ys, yt := at(s.YTicks, func(t float64) r3.Vec { return r3.Vec{X: b.Max.X, Y: t, Z: b.Min.Z} })
	zs, zt := at(s.ZTicks, func(t float64) r3.Vec { return r3.Vec{X: b.Min.X, Y: b.Max.Y, Z: t} })

	tick := vg.Points(9)
	if err := f.labels(xs, xt, tick, text.XLeft, text.YTop, vg.Point{X: 4, Y: -4}); err != nil {
		return err
	}
	if err := f.labels(ys, yt, tick, text.XRight, text.YTop, vg.Point{X: -4, Y: -4}); err != nil {
		return err
	}
	if err := f.labels(zs, zt, tick, text.XLeft, text.YCenter, vg.Point{X: 8}); err != nil {
		return err
	}

	name := vg.Points(11)
	mid := func(a, c r3.Vec) r3.Vec { return r3.Scale(0.5, r3.Add(a, c)) }
	if err := f.labels(
		[]r3.Vec{mid(r3.Vec{X: b.Min.X, Y: b.Max.Y, Z: b.Min.Z}, r3.Vec{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z})},
		[]string{s.XLabel}, name, text.XLeft, text.YTop, vg.Point{X: 24, Y: -24},
	); err != nil {
		return err
	}
	if err := f.labels(
		[]r3.Vec{mid(r3.Vec{X: b.Max.X, Y: b.Min.Y, Z: b.Min.Z}, r3.Vec{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z})},
		[]string{s.YLabel}, name, text.XRight, text.YTop, vg.Point{X: -24, Y: -24},
	); err != nil {
		return err
	}
	return f.labels(
		[]r3.Vec{{X: b.Min.X, Y: b.Max.Y, Z: b.Max.Z}},
		[]string{s.ZLabel}, name, text.XLeft, text.YBottom, vg.Point{X: 8, Y: 12},
	)
}

func (f *figure) drawSegments(s Scene) error {
	for _, seg := range s.Segments {
		if err := f.line(segmentStyles[seg.Kind], seg.From, seg.To); err != nil {
			return err
		}
	}
	return nil
}

// drawMarkers draws surface and projection markers before the probe so the
// probe stays on top.
func (f *figure) drawMarkers(s Scene) error {
	for _, kind := range []MarkerKind{MarkerProjection, MarkerSurface, MarkerProbe} {
		var xys plotter.XYs
		for _, m := range s.Markers {
			if m.Kind == kind {
				xys = append(xys, f.xy(m.At))
			}
		}
		if len(xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		sc.GlyphStyle = markerStyles[kind]
		f.p.Add(flat{sc})
	}
	return nil
}

func (f *figure) drawLabels(s Scene) error {
	for i, l := range s.Labels {
		size := vg.Points(10)
		if i == 0 {
			size = vg.Points(12)
		}
		if err := f.labels([]r3.Vec{l.At}, []string{l.Text}, size, text.XLeft, text.YBottom, vg.Point{X: 6, Y: 4}); err != nil {
			return err
		}
	}
	return nil
}

// fit fixes the plot range to the projected bounds box, padded for tick
// labels and widened to the canvas aspect ratio.
func (f *figure) fit(opts Options) {
	xmin, xmax, ymin, ymax := f.proj.frame()
	w, h := xmax-xmin, ymax-ymin
	xmin -= 0.12 * w
	xmax += 0.28 * w
	ymin -= 0.12 * h
	ymax += 0.08 * h

	w, h = xmax-xmin, ymax-ymin
	target := float64(opts.Width / opts.Height)
	if w/h < target {
		pad := (h*target - w) / 2
		xmin, xmax = xmin-pad, xmax+pad
	} else {
		pad := (w/target - h) / 2
		ymin, ymax = ymin-pad, ymax+pad
	}

	f.p.X.Min, f.p.X.Max = xmin, xmax
	f.p.Y.Min, f.p.Y.Max = ymin, ymax
}

package render

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

// ErrNonFinite is returned when a reading holds NaN or infinite values.
var ErrNonFinite = errors.New("reading is not renderable")

// Headroom is the fixed space shown above the magnet's top surface, in mm.
// It does not follow the probe depth, so a probe far above the surface is
// drawn outside the visible volume.
const Headroom = 30.0

// zTickStep is the spacing of the semantic Z labels above the surface.
const zTickStep = 5.0

// SegmentKind identifies what a guide segment represents.
type SegmentKind int

const (
	// SegmentSurfaceEdge marks the front top edge of the magnet.
	SegmentSurfaceEdge SegmentKind = iota
	// SegmentVertical joins the probe to the magnet surface below it.
	SegmentVertical
	// SegmentProjection joins the probe to its X=0 or Y=0 plane projection.
	SegmentProjection
)

// MarkerKind identifies what a marked point represents.
type MarkerKind int

const (
	MarkerProbe MarkerKind = iota
	MarkerSurface
	MarkerProjection
)

// Segment is a straight guide line in scene coordinates.
type Segment struct {
	From, To r3.Vec
	Kind     SegmentKind
}

// Marker is a marked point in scene coordinates.
type Marker struct {
	At   r3.Vec
	Kind MarkerKind
}

// Label is text anchored at a scene point.
type Label struct {
	At   r3.Vec
	Text string
}

// Tick is an axis tick at Value with display text.
type Tick struct {
	Value float64
	Text  string
}

// Scene is the complete, resolution-independent description of one figure.
type Scene struct {
	Style Style

	// Bounds is the visible volume. It is kept in the orientation the
	// reading implies and is not canonicalised.
	Bounds r3.Box
	Magnet r3.Box

	Probe   r3.Vec
	Surface r3.Vec

	// ProbeAbsoluteHeight is MagnetHeight + ProbeDepth.
	ProbeAbsoluteHeight float64

	Segments []Segment
	Markers  []Marker
	Labels   []Label

	XTicks, YTicks, ZTicks []Tick

	Title                  string
	XLabel, YLabel, ZLabel string
}

// BuildScene maps a reading to the scene it renders as.
func BuildScene(r reading.Reading, style Style) (Scene, error) {
	if err := r.CheckFinite(); err != nil {
		return Scene{}, fmt.Errorf("%w: %v", ErrNonFinite, err)
	}

	l, w, h := r.MagnetLength, r.MagnetWidth, r.MagnetHeight
	z := r.AbsoluteHeight()

	s := Scene{
		Style:               style,
		Bounds:              r3.Box{Max: r3.Vec{X: l, Y: w, Z: h + Headroom}},
		Magnet:              r3.Box{Max: r3.Vec{X: l, Y: w, Z: h}},
		Probe:               r3.Vec{X: r.ProbeX, Y: r.ProbeY, Z: z},
		Surface:             r3.Vec{X: r.ProbeX, Y: r.ProbeY, Z: h},
		ProbeAbsoluteHeight: z,
		Title:               "Probe position relative to magnet",
		XLabel:              "X (mm)",
		YLabel:              "Y (mm)",
		ZLabel:              "Distance (mm)",
	}

	s.Segments = append(s.Segments,
		Segment{From: r3.Vec{Z: h}, To: r3.Vec{X: l, Z: h}, Kind: SegmentSurfaceEdge},
		Segment{From: s.Probe, To: s.Surface, Kind: SegmentVertical},
	)
	s.Markers = append(s.Markers,
		Marker{At: s.Probe, Kind: MarkerProbe},
		Marker{At: s.Surface, Kind: MarkerSurface},
	)
	s.Labels = append(s.Labels, Label{At: r3.Vec{X: l / 2, Y: -3, Z: h + 0.5}, Text: "Magnet surface"})

	s.XTicks = numericTicks(0, l)
	s.YTicks = numericTicks(0, w)

	switch style {
	case StyleAnnotated:
		onX0 := r3.Vec{X: 0, Y: r.ProbeY, Z: z}
		onY0 := r3.Vec{X: r.ProbeX, Y: 0, Z: z}
		s.Segments = append(s.Segments,
			Segment{From: s.Probe, To: onX0, Kind: SegmentProjection},
			Segment{From: s.Probe, To: onY0, Kind: SegmentProjection},
		)
		s.Markers = append(s.Markers,
			Marker{At: onX0, Kind: MarkerProjection},
			Marker{At: onY0, Kind: MarkerProjection},
		)
		s.Labels = append(s.Labels,
			Label{At: onX0, Text: fmt.Sprintf("Y=%g", r.ProbeY)},
			Label{At: onY0, Text: fmt.Sprintf("X=%g", r.ProbeX)},
			Label{At: s.Probe, Text: fmt.Sprintf("(%g, %g, %g)", r.ProbeX, r.ProbeY, r.ProbeDepth)},
		)
		s.ZTicks = semanticZTicks(h)
	default:
		s.ZTicks = numericTicks(0, h+Headroom)
	}

	return s, nil
}

// semanticZTicks labels the magnet base, the surface, and fixed steps above it.
func semanticZTicks(h float64) []Tick {
	ticks := []Tick{
		{Value: 0, Text: "magnet base"},
		{Value: h, Text: "magnet surface"},
	}
	for off := zTickStep; off <= Headroom; off += zTickStep {
		ticks = append(ticks, Tick{Value: h + off, Text: fmt.Sprintf("%g mm", off)})
	}
	return ticks
}

// numericTicks returns the labelled major ticks plot would choose for the
// range. Ranges given high-to-low are handled.
func numericTicks(a, b float64) []Tick {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return []Tick{{Value: lo, Text: fmt.Sprintf("%g", lo)}}
	}
	var ticks []Tick
	for _, t := range (plot.DefaultTicks{}).Ticks(lo, hi) {
		if t.Label == "" {
			continue
		}
		ticks = append(ticks, Tick{Value: t.Value, Text: t.Label})
	}
	return ticks
}

package render

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

func sampleReading() reading.Reading {
	return reading.Reading{
		ProbeX: 5, ProbeY: 10, ProbeDepth: 2,
		MagnetLength: 30, MagnetWidth: 20, MagnetHeight: 5,
		Progress: 50,
	}
}

func labelTexts(s Scene) []string {
	out := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		out[i] = l.Text
	}
	return out
}

func tickTexts(ticks []Tick) []string {
	out := make([]string, len(ticks))
	for i, t := range ticks {
		out[i] = t.Text
	}
	return out
}

func TestBuildScene_Geometry(t *testing.T) {
	s, err := BuildScene(sampleReading(), StyleAnnotated)
	require.NoError(t, err)

	assert.Equal(t, 7.0, s.ProbeAbsoluteHeight)
	assert.Equal(t, r3.Vec{X: 5, Y: 10, Z: 7}, s.Probe)
	assert.Equal(t, r3.Vec{X: 5, Y: 10, Z: 5}, s.Surface)
	assert.Equal(t, r3.Box{Max: r3.Vec{X: 30, Y: 20, Z: 5}}, s.Magnet)
	assert.Equal(t, r3.Box{Max: r3.Vec{X: 30, Y: 20, Z: 35}}, s.Bounds)

	assert.Equal(t, "Probe position relative to magnet", s.Title)
	assert.Equal(t, "X (mm)", s.XLabel)
	assert.Equal(t, "Y (mm)", s.YLabel)
	assert.Equal(t, "Distance (mm)", s.ZLabel)

	require.NotEmpty(t, s.Segments)
	edge := s.Segments[0]
	assert.Equal(t, SegmentSurfaceEdge, edge.Kind)
	assert.Equal(t, r3.Vec{Z: 5}, edge.From)
	assert.Equal(t, r3.Vec{X: 30, Z: 5}, edge.To)
}

func TestBuildScene_AnnotatedLabels(t *testing.T) {
	s, err := BuildScene(sampleReading(), StyleAnnotated)
	require.NoError(t, err)

	assert.Equal(t, []string{"Magnet surface", "Y=10", "X=5", "(5, 10, 2)"}, labelTexts(s))
	assert.Equal(t, []string{
		"magnet base", "magnet surface",
		"5 mm", "10 mm", "15 mm", "20 mm", "25 mm", "30 mm",
	}, tickTexts(s.ZTicks))
	assert.Equal(t, 5.0, s.ZTicks[1].Value)
	assert.Equal(t, 35.0, s.ZTicks[len(s.ZTicks)-1].Value)

	var projections int
	for _, m := range s.Markers {
		if m.Kind == MarkerProjection {
			projections++
		}
	}
	assert.Equal(t, 2, projections)
}

func TestBuildScene_BasicStyle(t *testing.T) {
	s, err := BuildScene(sampleReading(), StyleBasic)
	require.NoError(t, err)

	assert.Equal(t, []string{"Magnet surface"}, labelTexts(s))
	assert.NotContains(t, tickTexts(s.ZTicks), "magnet base")
	for _, seg := range s.Segments {
		assert.NotEqual(t, SegmentProjection, seg.Kind)
	}
	require.NotEmpty(t, s.ZTicks)
	assert.Equal(t, "0", s.ZTicks[0].Text)
}

func TestBuildScene_NonFinite(t *testing.T) {
	for _, mutate := range []func(*reading.Reading){
		func(r *reading.Reading) { r.ProbeX = math.NaN() },
		func(r *reading.Reading) { r.MagnetHeight = math.Inf(1) },
		func(r *reading.Reading) { r.Progress = math.Inf(-1) },
	} {
		r := sampleReading()
		mutate(&r)
		_, err := BuildScene(r, StyleAnnotated)
		assert.True(t, errors.Is(err, ErrNonFinite), "got %v", err)
	}
}

func TestNumericTicks(t *testing.T) {
	assert.Equal(t, []Tick{{Value: 0, Text: "0"}}, numericTicks(0, 0))

	up := numericTicks(0, 30)
	down := numericTicks(30, 0)
	assert.Equal(t, up, down)
	require.NotEmpty(t, up)
	assert.Equal(t, 0.0, up[0].Value)
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in      string
		want    Style
		wantErr bool
	}{
		{"basic", StyleBasic, false},
		{"annotated", StyleAnnotated, false},
		{" Extended ", StyleAnnotated, false},
		{"fancy", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStyle(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, name string) Style {
	t.Helper()
	s, err := ParseStyle(name)
	require.NoError(t, err)
	return s
}

func TestProjector(t *testing.T) {
	p := DefaultView.projector(r3.Box{Max: r3.Vec{X: 30, Y: 20, Z: 35}})

	// Higher points project higher on the figure.
	_, yLow, _ := p.project(r3.Vec{X: 15, Y: 10, Z: 0})
	_, yHigh, _ := p.project(r3.Vec{X: 15, Y: 10, Z: 35})
	assert.Greater(t, yHigh, yLow)

	// The far corner is further from the viewer than the near one.
	_, _, far := p.project(r3.Vec{})
	_, _, near := p.project(r3.Vec{X: 30, Y: 20})
	assert.Greater(t, near, far)

	xmin, xmax, ymin, ymax := p.frame()
	assert.Less(t, xmin, xmax)
	assert.Less(t, ymin, ymax)
}

func TestProjector_ZeroSpan(t *testing.T) {
	p := DefaultView.projector(r3.Box{Max: r3.Vec{Z: 30}})
	x, y, d := p.project(r3.Vec{})
	for _, v := range []float64{x, y, d} {
		assert.False(t, math.IsNaN(v))
	}
}

func TestRender_PNG(t *testing.T) {
	out, err := Render(sampleReading(), DefaultOptions())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 800, img.Bounds().Dy())
}

func TestRender_Deterministic(t *testing.T) {
	a, err := Render(sampleReading(), DefaultOptions())
	require.NoError(t, err)
	b, err := Render(sampleReading(), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "identical readings rendered different images")
}

func TestRender_StylesDiffer(t *testing.T) {
	basic := DefaultOptions()
	basic.Style = StyleBasic
	a, err := Render(sampleReading(), basic)
	require.NoError(t, err)
	b, err := Render(sampleReading(), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestRender_ProbeOutsideVolume(t *testing.T) {
	tests := []struct {
		name  string
		depth float64
	}{
		{"far above headroom", 80},
		{"below base", -12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleReading()
			r.ProbeDepth = tt.depth
			out, err := Render(r, DefaultOptions())
			require.NoError(t, err)
			assert.NotEmpty(t, out)
		})
	}
}

func TestRender_DegenerateMagnet(t *testing.T) {
	r := sampleReading()
	r.MagnetLength, r.MagnetWidth, r.MagnetHeight = 0, 0, 0
	_, err := Render(r, DefaultOptions())
	assert.NoError(t, err)
}

func TestRender_NonFinite(t *testing.T) {
	r := sampleReading()
	r.ProbeDepth = math.NaN()
	_, err := Render(r, DefaultOptions())
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestRender_CustomSize(t *testing.T) {
	opts := DefaultOptions()
	opts.Width, opts.Height, opts.DPI = 0, 0, 50
	out, err := Render(sampleReading(), opts)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 400, cfg.Height)
}

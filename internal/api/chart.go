package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/magnetprobe/internal/httputil"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/render"
)

func point3D(v r3.Vec, name string) opts.Chart3DData {
	return opts.Chart3DData{Name: name, Value: []interface{}{v.X, v.Y, v.Z}}
}

// sceneChart serves an interactive 3D scatter of the current scene: the
// magnet corners, the probe, and its guide points.
func (s *Server) sceneChart(w http.ResponseWriter, r *http.Request) {
	style, ok := s.requestStyle(w, r)
	if !ok {
		return
	}
	rd := s.svc.Latest()
	scene, err := render.BuildScene(rd, style)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	corners := make([]opts.Chart3DData, 0, 8)
	for i, v := range scene.Magnet.Vertices() {
		corners = append(corners, point3D(v, fmt.Sprintf("corner %d", i)))
	}
	probePts := []opts.Chart3DData{point3D(scene.Probe, "probe")}
	guides := []opts.Chart3DData{point3D(scene.Surface, "surface")}
	for _, m := range scene.Markers {
		if m.Kind == render.MarkerProjection {
			guides = append(guides, point3D(m.At, "projection"))
		}
	}

	b := scene.Bounds
	size := func(v float64) float32 {
		if v <= 0 {
			return 1
		}
		return float32(v)
	}
	scale := float32(100) / size(max(b.Max.X, b.Max.Y, b.Max.Z))

	chart := charts.NewScatter3D()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: scene.Title, Width: "900px", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    scene.Title,
			Subtitle: fmt.Sprintf("x=%g y=%g depth=%g absolute height=%g", rd.ProbeX, rd.ProbeY, rd.ProbeDepth, scene.ProbeAbsoluteHeight),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: scene.XLabel, Min: b.Min.X, Max: b.Max.X}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: scene.YLabel, Min: b.Min.Y, Max: b.Max.Y}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: scene.ZLabel, Min: b.Min.Z, Max: b.Max.Z}),
		charts.WithGrid3DOpts(opts.Grid3D{
			BoxWidth:  size(b.Max.X) * scale,
			BoxDepth:  size(b.Max.Y) * scale,
			BoxHeight: size(b.Max.Z) * scale,
		}),
	)
	chart.AddSeries("magnet", corners, charts.WithItemStyleOpts(opts.ItemStyle{Color: "rgba(0,0,255,0.3)"}))
	chart.AddSeries("guides", guides, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#555555"}))
	chart.AddSeries("probe", probePts,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "red"}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}"}),
	)

	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		monitoring.Logf("failed to render scene chart: %v", err)
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package render

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// View is a fixed orthographic camera given as elevation above the XY plane
// and azimuth around the Z axis, both in degrees.
type View struct {
	Elevation float64
	Azimuth   float64
}

// DefaultView looks down at 30° from the +X+Y quadrant.
var DefaultView = View{Elevation: 30, Azimuth: 45}

// boxAspect is the relative extent of the normalised X, Y and Z axes.
var boxAspect = r3.Vec{X: 1, Y: 1, Z: 0.75}

// projector maps scene coordinates onto the 2D figure plane.
type projector struct {
	bounds            r3.Box
	right, up, toward r3.Vec
}

func (v View) projector(bounds r3.Box) projector {
	el := v.Elevation * math.Pi / 180
	az := v.Azimuth * math.Pi / 180
	toward := r3.Vec{
		X: math.Cos(el) * math.Cos(az),
		Y: math.Cos(el) * math.Sin(az),
		Z: math.Sin(el),
	}
	right := r3.Unit(r3.Cross(r3.Vec{Z: 1}, toward))
	return projector{
		bounds: bounds,
		right:  right,
		up:     r3.Cross(toward, right),
		toward: toward,
	}
}

// normalise maps p into a box centred on the origin whose sides follow
// boxAspect, so that scenes of any size fill the same figure area.
func (p projector) normalise(v r3.Vec) r3.Vec {
	unit := func(x, lo, hi float64) float64 {
		span := hi - lo
		if span == 0 {
			span = 1
		}
		return (x-lo)/span - 0.5
	}
	return r3.Vec{
		X: unit(v.X, p.bounds.Min.X, p.bounds.Max.X) * boxAspect.X,
		Y: unit(v.Y, p.bounds.Min.Y, p.bounds.Max.Y) * boxAspect.Y,
		Z: unit(v.Z, p.bounds.Min.Z, p.bounds.Max.Z) * boxAspect.Z,
	}
}

// project returns the figure-plane position of v and its depth towards the
// viewer; larger depth is nearer.
func (p projector) project(v r3.Vec) (x, y, depth float64) {
	n := p.normalise(v)
	return r3.Dot(n, p.right), r3.Dot(n, p.up), r3.Dot(n, p.toward)
}

// frame returns the figure-plane extent of the bounds box.
func (p projector) frame() (xmin, xmax, ymin, ymax float64) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, c := range p.bounds.Vertices() {
		x, y, _ := p.project(c)
		xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
		ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
	}
	return xmin, xmax, ymin, ymax
}

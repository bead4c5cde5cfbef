package camera

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// BrownConrady is the distortion model for simple lenses of narrow field
// easily modeled as a pinhole camera. It operates on normalized camera
// coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	if len(inp) == 0 {
		return &BrownConrady{}, nil
	}
	for i := len(inp); i < 5; i++ { // fill missing values with 0.0
		inp = append(inp, 0.0)
	}
	return &BrownConrady{inp[0], inp[1], inp[2], inp[3], inp[4]}, nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Distort applies the forward model to undistorted normalized coordinates:
//
//	x_d = x_u*(1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u*(1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
func (bc *BrownConrady) Distort(pt r2.Point) r2.Point {
	if bc == nil {
		return pt
	}
	r2v := pt.X*pt.X + pt.Y*pt.Y
	r4 := r2v * r2v
	r6 := r4 * r2v
	radial := 1.0 + bc.RadialK1*r2v + bc.RadialK2*r4 + bc.RadialK3*r6
	xd := pt.X*radial + 2.0*bc.TangentialP1*pt.X*pt.Y + bc.TangentialP2*(r2v+2.0*pt.X*pt.X)
	yd := pt.Y*radial + 2.0*bc.TangentialP2*pt.X*pt.Y + bc.TangentialP1*(r2v+2.0*pt.Y*pt.Y)
	return r2.Point{X: xd, Y: yd}
}

// Undistort solves the forward model for the undistorted coordinates that
// would produce the given distorted coordinates, by fixed-point iteration
// starting from the distorted point.
func (bc *BrownConrady) Undistort(pt r2.Point) r2.Point {
	if bc == nil {
		return pt
	}
	const maxIterations = 20
	const tolerance = 1e-12

	xu, yu := pt.X, pt.Y
	for i := 0; i < maxIterations; i++ {
		d := bc.Distort(r2.Point{X: xu, Y: yu})
		dx, dy := pt.X-d.X, pt.Y-d.Y
		xu += dx
		yu += dy
		if dx*dx+dy*dy < tolerance*tolerance {
			break
		}
	}
	return r2.Point{X: xu, Y: yu}
}

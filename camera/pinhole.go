package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pinhole is a perspective camera with an optional Brown-Conrady lens
// distortion. A nil distortion means an ideal pinhole.
type Pinhole struct {
	params     *Intrinsics
	distortion *BrownConrady
}

// NewPinhole returns a pinhole camera model with the given intrinsics.
func NewPinhole(params *Intrinsics, distortion *BrownConrady) (*Pinhole, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return &Pinhole{params: params, distortion: distortion}, nil
}

// Type reports which variant this is.
func (p *Pinhole) Type() ModelType {
	return PinholeModelType
}

// Intrinsics returns the internal projection parameters.
func (p *Pinhole) Intrinsics() *Intrinsics {
	return p.params
}

// K returns the 3x3 intrinsic matrix.
func (p *Pinhole) K() *mat.Dense {
	return p.params.K()
}

// Distortion returns the lens distortion, nil for an ideal pinhole.
func (p *Pinhole) Distortion() *BrownConrady {
	return p.distortion
}

// CheckValid reports whether the model parameters are usable.
func (p *Pinhole) CheckValid() error {
	return p.params.CheckValid()
}

// Project maps a 3D point in the camera frame to the pixel a real lens
// would measure it at. Points at zero depth project to (-1,-1) so callers
// can filter them with a bounds check.
func (p *Pinhole) Project(pt r3.Vector) r2.Point {
	if pt.Z == 0 {
		return r2.Point{X: -1.0, Y: -1.0}
	}
	norm := r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}
	return p.params.CamToPixel(p.distortion.Distort(norm))
}

// Unproject maps a measured pixel to the unit-depth point on its viewing ray.
func (p *Pinhole) Unproject(pt r2.Point) r3.Vector {
	norm := p.RemoveDistortion(p.params.PixelToCam(pt))
	return r3.Vector{X: norm.X, Y: norm.Y, Z: 1}
}

// RemoveDistortion undoes lens distortion on normalized camera coordinates.
func (p *Pinhole) RemoveDistortion(pt r2.Point) r2.Point {
	return p.distortion.Undistort(pt)
}

// UndistortPixel maps a measured pixel to where an ideal pinhole camera
// would have seen it.
func (p *Pinhole) UndistortPixel(pt r2.Point) r2.Point {
	return p.params.CamToPixel(p.RemoveDistortion(p.params.PixelToCam(pt)))
}

package camera

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Intrinsics holds the parameters necessary to do a perspective projection
// of a 3D scene to the 2D plane. The intrinsic matrix is upper triangular:
//
//	[[fx skew ppx],
//	 [0  fy   ppy],
//	 [0  0    1]]
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Skew   float64 `json:"skew"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return ErrNoIntrinsics
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Errorf("invalid image size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Errorf("invalid focal length Fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Errorf("invalid focal length Fy = %v", params.Fy)
	}
	return nil
}

// K creates the 3x3 intrinsic camera matrix.
func (params *Intrinsics) K() *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, params.Fx)
	k.Set(0, 1, params.Skew)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 1, params.Fy)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// PixelToCam maps a pixel to normalized camera coordinates.
func (params *Intrinsics) PixelToCam(pt r2.Point) r2.Point {
	y := (pt.Y - params.Ppy) / params.Fy
	x := (pt.X - params.Ppx - params.Skew*y) / params.Fx
	return r2.Point{X: x, Y: y}
}

// CamToPixel maps normalized camera coordinates to a pixel.
func (params *Intrinsics) CamToPixel(pt r2.Point) r2.Point {
	return r2.Point{
		X: params.Fx*pt.X + params.Skew*pt.Y + params.Ppx,
		Y: params.Fy*pt.Y + params.Ppy,
	}
}

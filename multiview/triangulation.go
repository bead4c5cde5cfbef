package multiview

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// TriangulateDLT recovers the 3D point observed at x1 by camera P1 and x2
// by camera P2 with the direct linear transform: each observation
// contributes two rows of a homogeneous system whose smallest singular
// vector is the point.
//
// There is no failure mode besides a rank-deficient input producing an
// unreliable point; callers must validate positive depth in both views.
func TriangulateDLT(p1 *mat.Dense, x1 r2.Point, p2 *mat.Dense, x2 r2.Point) r3.Vector {
	a := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		a.Set(0, j, x1.X*p1.At(2, j)-p1.At(0, j))
		a.Set(1, j, x1.Y*p1.At(2, j)-p1.At(1, j))
		a.Set(2, j, x2.X*p2.At(2, j)-p2.At(0, j))
		a.Set(3, j, x2.Y*p2.At(2, j)-p2.At(1, j))
	}
	x, _, err := smallestRightSingularVector(a)
	if err != nil || x[3] == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: x[0] / x[3], Y: x[1] / x[3], Z: x[2] / x[3]}
}

// DepthInView returns the depth of world point x in a camera at (R, t).
func DepthInView(rot *mat.Dense, t r3.Vector, x r3.Vector) float64 {
	return rot.At(2, 0)*x.X + rot.At(2, 1)*x.Y + rot.At(2, 2)*x.Z + t.Z
}

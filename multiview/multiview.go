// Package multiview provides the closed-form geometry used by camera
// calibration and two-view reconstruction: minimal solvers for homographies
// and absolute pose, linear triangulation, and projection-matrix plumbing.
package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateGeometry is returned when an input configuration cannot
// determine a model (singular systems, collinear points, non-positive
// depth throughout).
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// helpers shared by the solvers below

// transposeDense returns mᵀ as a new dense matrix.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	VT     *mat.Dense
	Values []float64
}

// performSVD performs a full SVD on inputMatrix.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt := transposeDense(v)
	return &matsSVD{U: u, V: v, VT: vt, Values: svd.Values(nil)}, nil
}

// smallestRightSingularVector returns the right singular vector associated
// with the smallest singular value of m.
func smallestRightSingularVector(m mat.Matrix) ([]float64, *matsSVD, error) {
	mats, err := performSVD(m)
	if err != nil {
		return nil, nil, err
	}
	_, cols := mats.V.Dims()
	vec := make([]float64, 0, cols)
	for i := 0; i < cols; i++ {
		vec = append(vec, mats.V.At(i, cols-1))
	}
	return vec, mats, nil
}

// CrossProductMatrix returns the skew-symmetric matrix [p]x such that
// [p]x q = p x q.
func CrossProductMatrix(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// normalizePoints centers points on their centroid and scales them to an
// average distance of sqrt(2), as described in Multiple View Geometry,
// Alg 4.2. It returns the transformed points and the similarity transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / float64(nPoints)
	}
	if d == 0 {
		d = 1
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// applyMat3 applies a 3x3 projective transform to a 2D point.
func applyMat3(m *mat.Dense, pt r2.Point) r2.Point {
	x := m.At(0, 0)*pt.X + m.At(0, 1)*pt.Y + m.At(0, 2)
	y := m.At(1, 0)*pt.X + m.At(1, 1)*pt.Y + m.At(1, 2)
	z := m.At(2, 0)*pt.X + m.At(2, 1)*pt.Y + m.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

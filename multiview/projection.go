package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PFromKRT composes the 3x4 projection matrix P = K [R|t].
func PFromKRT(k, rot *mat.Dense, t r3.Vector) *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Set(i, j, rot.At(i, j))
		}
	}
	rt.Set(0, 3, t.X)
	rt.Set(1, 3, t.Y)
	rt.Set(2, 3, t.Z)
	p := mat.NewDense(3, 4, nil)
	p.Mul(k, rt)
	return p
}

// KRTFromP decomposes a projection matrix into K [R|t] via an RQ
// factorization of its left 3x3 block. K comes back with a positive
// diagonal and unit lower-right entry; R is a proper rotation.
func KRTFromP(p *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	rows, cols := p.Dims()
	if rows != 3 || cols != 4 {
		return nil, nil, r3.Vector{}, errors.Errorf("projection matrix must be 3x4, got %dx%d", rows, cols)
	}
	m := mat.DenseCopyOf(p.Slice(0, 3, 0, 3))
	if math.Abs(mat.Det(m)) < 1e-15 {
		return nil, nil, r3.Vector{}, errors.Wrap(ErrDegenerateGeometry, "projection matrix has singular left block")
	}

	// RQ via QR of the row-reversed transpose: with E the exchange
	// matrix, (E M)ᵀ = Q S gives M = (E Sᵀ E)(E Qᵀ), upper-triangular
	// times orthogonal.
	e := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})
	em := mat.NewDense(3, 3, nil)
	em.Mul(e, m)

	var qr mat.QR
	qr.Factorize(em.T())
	var q, s mat.Dense
	qr.QTo(&q)
	qr.RTo(&s)

	k := mat.NewDense(3, 3, nil)
	k.Mul(e, s.T())
	k.Mul(k, e)
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(e, q.T())

	// flip signs so the intrinsic diagonal is positive; flipping column i
	// of K and row i of R preserves the product
	for i := 0; i < 3; i++ {
		if k.At(i, i) < 0 {
			for j := 0; j < 3; j++ {
				k.Set(j, i, -k.At(j, i))
				rot.Set(i, j, -rot.At(i, j))
			}
		}
	}

	// P is homogeneous; absorb a global sign flip when R came out improper
	p4Sign := 1.0
	if mat.Det(rot) < 0 {
		rot.Scale(-1, rot)
		p4Sign = -1.0
	}

	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, nil, r3.Vector{}, errors.Wrap(err, "cannot invert intrinsic matrix")
	}
	p4 := mat.NewVecDense(3, []float64{
		p4Sign * p.At(0, 3), p4Sign * p.At(1, 3), p4Sign * p.At(2, 3),
	})
	var tv mat.VecDense
	tv.MulVec(&kInv, p4)
	t := r3.Vector{X: tv.AtVec(0), Y: tv.AtVec(1), Z: tv.AtVec(2)}

	if k.At(2, 2) != 0 {
		k.Scale(1/k.At(2, 2), k)
	}
	return k, rot, t, nil
}

// ClosestRotation projects a 3x3 matrix onto SO(3) via its polar
// decomposition: the SVD's U Vᵀ with a determinant fix.
func ClosestRotation(m *mat.Dense) (*mat.Dense, error) {
	mats, err := performSVD(m)
	if err != nil {
		return nil, err
	}
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(mats.U, mats.VT)
	if mat.Det(rot) < 0 {
		// flip the singular direction of least weight
		u := mat.DenseCopyOf(mats.U)
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(u, mats.VT)
	}
	return rot, nil
}

// FundamentalFromPose builds the fundamental matrix relating a reference
// view at the origin to a view at (R, t):
//
//	F = Knext⁻ᵀ [t]x R Kref⁻¹
func FundamentalFromPose(kRef, kNext, rot *mat.Dense, t r3.Vector) (*mat.Dense, error) {
	var kRefInv, kNextInv mat.Dense
	if err := kRefInv.Inverse(kRef); err != nil {
		return nil, errors.Wrap(err, "reference intrinsic matrix is singular")
	}
	if err := kNextInv.Inverse(kNext); err != nil {
		return nil, errors.Wrap(err, "next intrinsic matrix is singular")
	}
	f := mat.NewDense(3, 3, nil)
	f.Mul(CrossProductMatrix(t), rot)
	f.Mul(f, &kRefInv)
	var tmp mat.Dense
	tmp.Mul(kNextInv.T(), f)
	return mat.DenseCopyOf(&tmp), nil
}

// EpipolarDistance returns the signed distance from pt in the next view to
// the epipolar line of ref under F. The line normal is normalized so the
// result is in pixels.
func EpipolarDistance(f *mat.Dense, ref, pt r2.Point) float64 {
	lx := f.At(0, 0)*ref.X + f.At(0, 1)*ref.Y + f.At(0, 2)
	ly := f.At(1, 0)*ref.X + f.At(1, 1)*ref.Y + f.At(1, 2)
	lz := f.At(2, 0)*ref.X + f.At(2, 1)*ref.Y + f.At(2, 2)
	norm := math.Hypot(lx, ly)
	if norm == 0 {
		return math.Inf(1)
	}
	return (pt.X*lx + pt.Y*ly + lz) / norm
}

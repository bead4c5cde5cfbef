// Package calibration estimates camera intrinsics and initial poses from
// checkerboard detections, either from several views of one board or from
// a single view containing several boards.
package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/camera"
	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/sfm"
)

// zhangVRow builds the constraint row v_ij relating columns i and j of a
// board-to-image homography to the image of the absolute conic.
func zhangVRow(h *mat.Dense, i, j int) [6]float64 {
	return [6]float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

// intrinsicsFromHomographies recovers the intrinsic matrix from at least
// three board-to-image homographies by stacking two linear constraints per
// view on the image of the absolute conic, solving for its null space, and
// decomposing the resulting symmetric matrix in closed form.
func intrinsicsFromHomographies(homographies []*mat.Dense) (*mat.Dense, error) {
	if len(homographies) < 3 {
		return nil, errors.Wrapf(sfm.ErrInsufficientData,
			"%d usable views, need at least 3 to constrain the intrinsics", len(homographies))
	}

	v := mat.NewDense(2*len(homographies), 6, nil)
	for idx, h := range homographies {
		r01 := zhangVRow(h, 0, 1)
		r00 := zhangVRow(h, 0, 0)
		r11 := zhangVRow(h, 1, 1)
		for c := 0; c < 6; c++ {
			v.Set(2*idx, c, r01[c])
			v.Set(2*idx+1, c, r00[c]-r11[c])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize constraint matrix")
	}
	var right mat.Dense
	svd.VTo(&right)
	_, cols := right.Dims()
	n := make([]float64, 6)
	for i := range n {
		n[i] = right.At(i, cols-1)
	}
	// B is defined up to sign; it represents K^-T K^-1 so its leading
	// element must be positive
	if n[0] < 0 {
		for i := range n {
			n[i] = -n[i]
		}
	}

	b00, b01, b11, b02, b12, b22 := n[0], n[1], n[2], n[3], n[4], n[5]

	den := b00*b11 - b01*b01
	if den == 0 {
		return nil, errors.Wrap(multiview.ErrDegenerateGeometry, "conic constraints are rank deficient")
	}
	v0 := (b01*b02 - b00*b12) / den
	lambda := b22 - (b02*b02+v0*(b01*b02-b00*b12))/b00
	if lambda <= 0 || b00 <= 0 || lambda/b00 <= 0 || lambda*b00/den <= 0 {
		return nil, errors.Wrap(multiview.ErrDegenerateGeometry, "recovered conic is not positive definite")
	}
	alpha := math.Sqrt(lambda / b00)
	beta := math.Sqrt(lambda * b00 / den)
	gamma := -b01 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b02*alpha*alpha/lambda

	return mat.NewDense(3, 3, []float64{
		alpha, gamma, u0,
		0, beta, v0,
		0, 0, 1,
	}), nil
}

// poseFromHomography recovers the board-to-camera pose from a
// board-to-image homography and the inverse intrinsic matrix. The first
// two rotation columns come from the homography up to a common scale fixed
// by unit column norm, the third from their cross product, and the result
// is re-orthonormalized. The translation sign is chosen so the board sits
// in front of the camera.
func poseFromHomography(kInv, h *mat.Dense) (*sfm.Pose, error) {
	col := func(m *mat.Dense, j int) [3]float64 {
		return [3]float64{
			kInv.At(0, 0)*m.At(0, j) + kInv.At(0, 1)*m.At(1, j) + kInv.At(0, 2)*m.At(2, j),
			kInv.At(1, 0)*m.At(0, j) + kInv.At(1, 1)*m.At(1, j) + kInv.At(1, 2)*m.At(2, j),
			kInv.At(2, 0)*m.At(0, j) + kInv.At(2, 1)*m.At(1, j) + kInv.At(2, 2)*m.At(2, j),
		}
	}

	c0 := col(h, 0)
	c1 := col(h, 1)
	c2 := col(h, 2)

	norm1 := math.Sqrt(c1[0]*c1[0] + c1[1]*c1[1] + c1[2]*c1[2])
	if norm1 == 0 {
		return nil, errors.Wrap(multiview.ErrDegenerateGeometry, "homography has a vanishing column")
	}
	tlambda := 1.0 / norm1
	if tlambda*c2[2] < 0 {
		tlambda = -tlambda
	}

	r1 := r3.Vector{X: tlambda * c0[0], Y: tlambda * c0[1], Z: tlambda * c0[2]}
	r2v := r3.Vector{X: tlambda * c1[0], Y: tlambda * c1[1], Z: tlambda * c1[2]}
	r3v := r1.Cross(r2v)

	m := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	t := r3.Vector{X: tlambda * c2[0], Y: tlambda * c2[1], Z: tlambda * c2[2]}
	return sfm.NewPose(m, t)
}

// applyKToIntrinsics writes a recovered intrinsic matrix back into the
// scene's parameter block, leaving the image size and distortion untouched.
func applyKToIntrinsics(params *camera.Intrinsics, k *mat.Dense) {
	params.Fx = k.At(0, 0)
	params.Fy = k.At(1, 1)
	params.Skew = k.At(0, 1)
	params.Ppx = k.At(0, 2)
	params.Ppy = k.At(1, 2)
}

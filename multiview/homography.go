package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minimum ratio between the smallest significant singular value and the
// largest one for a DLT system to be considered well determined.
const rankTolerance = 1e-9

// HomographyFromPoints estimates the 3x3 homography H with dst ~ H src by
// direct linear transform over n >= 4 correspondences. Points on both
// sides are Hartley-normalized before solving. Collinear configurations
// return ErrDegenerateGeometry.
func HomographyFromPoints(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in size: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}
	nPoints := len(src)

	srcNorm, T1 := normalizePoints(src)
	dstNorm, T2 := normalizePoints(dst)

	a := mat.NewDense(2*nPoints, 9, nil)
	for i := 0; i < nPoints; i++ {
		s := srcNorm[i]
		d := dstNorm[i]
		a.SetRow(2*i, []float64{
			-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y,
		})
	}

	h, mats, err := smallestRightSingularVector(a)
	if err != nil {
		return nil, err
	}
	// a homography needs 8 independent constraints; a deficient system
	// means the sample was (near) collinear
	if mats.Values[7] < rankTolerance*mats.Values[0] {
		return nil, errors.Wrap(ErrDegenerateGeometry, "correspondences do not determine a homography")
	}

	hNorm := mat.NewDense(3, 3, h)

	// unnormalize: H = T2^-1 * Hn * T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization transform")
	}
	H := mat.NewDense(3, 3, nil)
	H.Mul(&t2Inv, hNorm)
	H.Mul(H, T1)

	if math.Abs(H.At(2, 2)) > 1e-15 {
		H.Scale(1/H.At(2, 2), H)
	}
	return H, nil
}

// HomographyKernel drives ransac.Estimate over plane-to-image
// correspondences. The residual is the asymmetric transfer error in the
// destination image.
type HomographyKernel struct {
	src, dst  []r2.Point
	logAlpha0 float64
}

// NewHomographyKernel creates a kernel over matched point sets. width and
// height describe the destination image, normalizing residual magnitudes
// against its area.
func NewHomographyKernel(src, dst []r2.Point, width, height int) (*HomographyKernel, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in size: %d vs %d", len(src), len(dst))
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	return &HomographyKernel{
		src:       src,
		dst:       dst,
		logAlpha0: math.Log10(math.Pi / (float64(width) * float64(height))),
	}, nil
}

// NumSamples is the number of correspondences.
func (k *HomographyKernel) NumSamples() int { return len(k.src) }

// MinSampleSize is 4: the smallest sample determining a homography.
func (k *HomographyKernel) MinSampleSize() int { return 4 }

// LogAlpha0 normalizes image-space residuals against the image area.
func (k *HomographyKernel) LogAlpha0() float64 { return k.logAlpha0 }

// Fit solves the minimal 4-point problem; a degenerate sample yields no
// candidates.
func (k *HomographyKernel) Fit(sample []int) []*mat.Dense {
	src := make([]r2.Point, len(sample))
	dst := make([]r2.Point, len(sample))
	for i, idx := range sample {
		src[i] = k.src[idx]
		dst[i] = k.dst[idx]
	}
	H, err := HomographyFromPoints(src, dst)
	if err != nil {
		return nil
	}
	return []*mat.Dense{H}
}

// Error returns the squared transfer distance of one correspondence.
func (k *HomographyKernel) Error(model *mat.Dense, idx int) float64 {
	mapped := applyMat3(model, k.src[idx])
	dx := mapped.X - k.dst[idx].X
	dy := mapped.Y - k.dst[idx].Y
	return dx*dx + dy*dy
}

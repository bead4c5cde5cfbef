package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// P3P solves the three-point absolute pose problem with Grunert's method:
// the ratios of the camera-to-point distances satisfy a quartic whose real
// positive roots each yield one pose hypothesis. worldPts are the known 3D
// points; bearings are the corresponding unit rays through the camera
// center. Up to four (R, t) pairs come back, with x_cam = R x_world + t.
func P3P(worldPts [3]r3.Vector, bearings [3]r3.Vector) ([]*mat.Dense, []r3.Vector, error) {
	p1, p2, p3 := worldPts[0], worldPts[1], worldPts[2]
	f1, f2, f3 := bearings[0].Normalize(), bearings[1].Normalize(), bearings[2].Normalize()

	// collinear world points cannot fix a pose
	if p2.Sub(p1).Cross(p3.Sub(p1)).Norm() < 1e-12 {
		return nil, nil, errors.Wrap(ErrDegenerateGeometry, "world points are collinear")
	}

	a := p2.Sub(p3).Norm()
	b := p1.Sub(p3).Norm()
	c := p1.Sub(p2).Norm()
	if a == 0 || b == 0 || c == 0 {
		return nil, nil, errors.Wrap(ErrDegenerateGeometry, "world points coincide")
	}

	cosAlpha := f2.Dot(f3)
	cosBeta := f1.Dot(f3)
	cosGamma := f1.Dot(f2)

	aSq, bSq, cSq := a*a, b*b, c*c
	// shorthand ratios from Grunert's derivation
	acb := (aSq - cSq) / bSq
	apcb := (aSq + cSq) / bSq

	a4 := (acb-1)*(acb-1) - 4*(cSq/bSq)*cosAlpha*cosAlpha
	a3 := 4 * (acb*(1-acb)*cosBeta - (1-apcb)*cosAlpha*cosGamma + 2*(cSq/bSq)*cosAlpha*cosAlpha*cosBeta)
	a2 := 2 * (acb*acb - 1 + 2*acb*acb*cosBeta*cosBeta + 2*((bSq-cSq)/bSq)*cosAlpha*cosAlpha -
		4*apcb*cosAlpha*cosBeta*cosGamma + 2*((bSq-aSq)/bSq)*cosGamma*cosGamma)
	a1 := 4 * (-acb*(1+acb)*cosBeta + 2*(aSq/bSq)*cosGamma*cosGamma*cosBeta - (1-apcb)*cosAlpha*cosGamma)
	a0 := (1+acb)*(1+acb) - 4*(aSq/bSq)*cosGamma*cosGamma

	roots, err := solveQuartic(a4, a3, a2, a1, a0)
	if err != nil {
		return nil, nil, err
	}

	var rotations []*mat.Dense
	var translations []r3.Vector
	for _, v := range roots {
		if v <= 0 {
			continue
		}
		den := 2 * (cosGamma - v*cosAlpha)
		if math.Abs(den) < 1e-12 {
			continue
		}
		u := ((-1+acb)*v*v - 2*acb*cosBeta*v + 1 + acb) / den

		s1Sq := bSq / (1 + v*v - 2*v*cosBeta)
		if s1Sq <= 0 {
			continue
		}
		s1 := math.Sqrt(s1Sq)
		s2 := u * s1
		s3 := v * s1
		if s1 <= 0 || s2 <= 0 || s3 <= 0 {
			continue
		}

		camPts := [3]r3.Vector{f1.Mul(s1), f2.Mul(s2), f3.Mul(s3)}
		rot, t, err := rigidFromTriangles(worldPts, camPts)
		if err != nil {
			continue
		}
		rotations = append(rotations, rot)
		translations = append(translations, t)
	}
	if len(rotations) == 0 {
		return nil, nil, errors.Wrap(ErrDegenerateGeometry, "no admissible pose from quartic roots")
	}
	return rotations, translations, nil
}

// rigidFromTriangles finds the rigid transform mapping three world points
// onto three camera-frame points by aligning the triangles: covariance of
// the centered point sets, SVD, and a determinant fix for reflections.
func rigidFromTriangles(world, cam [3]r3.Vector) (*mat.Dense, r3.Vector, error) {
	wc := world[0].Add(world[1]).Add(world[2]).Mul(1.0 / 3.0)
	cc := cam[0].Add(cam[1]).Add(cam[2]).Mul(1.0 / 3.0)

	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		w := world[i].Sub(wc)
		c := cam[i].Sub(cc)
		wv := []float64{w.X, w.Y, w.Z}
		cv := []float64{c.X, c.Y, c.Z}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				h.Set(r, col, h.At(r, col)+wv[r]*cv[col])
			}
		}
	}

	mats, err := performSVD(h)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(mats.V, mats.U.T())
	if mat.Det(rot) < 0 {
		v := mat.DenseCopyOf(mats.V)
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(v, mats.U.T())
	}

	rw := r3.Vector{
		X: rot.At(0, 0)*wc.X + rot.At(0, 1)*wc.Y + rot.At(0, 2)*wc.Z,
		Y: rot.At(1, 0)*wc.X + rot.At(1, 1)*wc.Y + rot.At(1, 2)*wc.Z,
		Z: rot.At(2, 0)*wc.X + rot.At(2, 1)*wc.Y + rot.At(2, 2)*wc.Z,
	}
	return rot, cc.Sub(rw), nil
}

// solveQuartic returns the real roots of a4 x⁴ + a3 x³ + a2 x² + a1 x + a0
// as the real eigenvalues of the companion matrix. Vanishing leading
// coefficients degrade the degree.
func solveQuartic(a4, a3, a2, a1, a0 float64) ([]float64, error) {
	coeffs := []float64{a0, a1, a2, a3, a4}
	degree := len(coeffs) - 1
	for degree > 0 && math.Abs(coeffs[degree]) < 1e-14 {
		degree--
	}
	if degree < 1 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "polynomial is constant")
	}
	if degree == 1 {
		return []float64{-coeffs[0] / coeffs[1]}, nil
	}

	companion := mat.NewDense(degree, degree, nil)
	for i := 1; i < degree; i++ {
		companion.Set(i, i-1, 1)
	}
	for i := 0; i < degree; i++ {
		companion.Set(i, degree-1, -coeffs[i]/coeffs[degree])
	}

	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil, errors.New("failed to factorize companion matrix")
	}
	var roots []float64
	for _, val := range eig.Values(nil) {
		if math.Abs(imag(val)) < 1e-8*math.Max(1, math.Abs(real(val))) {
			roots = append(roots, real(val))
		}
	}
	return roots, nil
}

// ResectionKernel drives ransac.Estimate over 2D-3D correspondences with a
// known intrinsic matrix. Models are 3x4 projection matrices P = K [R|t];
// the residual is the reprojection distance in image space scaled by a
// per-point confidence weight.
type ResectionKernel struct {
	imagePts  []r2.Point
	worldPts  []r3.Vector
	weights   []float64
	k         *mat.Dense
	kInv      *mat.Dense
	logAlpha0 float64
}

// NewResectionKernel creates a kernel over matched image and world points.
// weights may be nil for uniform confidence; width and height describe the
// image the residuals live in.
func NewResectionKernel(imagePts []r2.Point, worldPts []r3.Vector, weights []float64, k *mat.Dense, width, height int) (*ResectionKernel, error) {
	if len(imagePts) != len(worldPts) {
		return nil, errors.Errorf("point sets differ in size: %d vs %d", len(imagePts), len(worldPts))
	}
	if weights != nil && len(weights) != len(imagePts) {
		return nil, errors.Errorf("got %d weights for %d points", len(weights), len(imagePts))
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "intrinsic matrix is singular")
	}
	return &ResectionKernel{
		imagePts:  imagePts,
		worldPts:  worldPts,
		weights:   weights,
		k:         k,
		kInv:      mat.DenseCopyOf(&kInv),
		logAlpha0: math.Log10(math.Pi / (float64(width) * float64(height))),
	}, nil
}

// NumSamples is the number of correspondences.
func (k *ResectionKernel) NumSamples() int { return len(k.imagePts) }

// MinSampleSize is 3: the smallest sample determining an absolute pose.
func (k *ResectionKernel) MinSampleSize() int { return 3 }

// LogAlpha0 normalizes image-space residuals against the image area.
func (k *ResectionKernel) LogAlpha0() float64 { return k.logAlpha0 }

// Fit solves the minimal three-point problem, returning one projection
// matrix per admissible pose.
func (k *ResectionKernel) Fit(sample []int) []*mat.Dense {
	var world [3]r3.Vector
	var bearings [3]r3.Vector
	for i, idx := range sample {
		world[i] = k.worldPts[idx]
		pt := k.imagePts[idx]
		bearings[i] = r3.Vector{
			X: k.kInv.At(0, 0)*pt.X + k.kInv.At(0, 1)*pt.Y + k.kInv.At(0, 2),
			Y: k.kInv.At(1, 0)*pt.X + k.kInv.At(1, 1)*pt.Y + k.kInv.At(1, 2),
			Z: k.kInv.At(2, 0)*pt.X + k.kInv.At(2, 1)*pt.Y + k.kInv.At(2, 2),
		}
	}
	rotations, translations, err := P3P(world, bearings)
	if err != nil {
		return nil
	}
	models := make([]*mat.Dense, 0, len(rotations))
	for i := range rotations {
		models = append(models, PFromKRT(k.k, rotations[i], translations[i]))
	}
	return models
}

// Error returns the weighted squared reprojection distance of one
// correspondence.
func (k *ResectionKernel) Error(model *mat.Dense, idx int) float64 {
	w := k.worldPts[idx]
	x := model.At(0, 0)*w.X + model.At(0, 1)*w.Y + model.At(0, 2)*w.Z + model.At(0, 3)
	y := model.At(1, 0)*w.X + model.At(1, 1)*w.Y + model.At(1, 2)*w.Z + model.At(1, 3)
	z := model.At(2, 0)*w.X + model.At(2, 1)*w.Y + model.At(2, 2)*w.Z + model.At(2, 3)
	if z == 0 {
		return math.Inf(1)
	}
	dx := x/z - k.imagePts[idx].X
	dy := y/z - k.imagePts[idx].Y
	d := dx*dx + dy*dy
	if k.weights != nil {
		d *= k.weights[idx] * k.weights[idx]
	}
	return d
}

package sfm

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/multiview"
)

// Pose is a world-to-camera rigid transform: x_cam = R x_world + t. The
// rotation is always a proper rotation; NewPose checks, and if needed
// projects, whatever it is given instead of trusting the caller.
type Pose struct {
	rotation    *mat.Dense
	translation r3.Vector
}

// orthoTol bounds how far RᵀR may deviate from identity before the
// rotation gets re-projected onto SO(3).
const orthoTol = 1e-9

// NewPose builds a pose from a 3x3 rotation estimate and a translation.
// An already-orthonormal rotation is kept bit-for-bit, so a pose survives a
// save and reload unchanged. Mildly unorthonormal inputs from noisy solvers
// are replaced with their closest proper rotation; inputs far from a
// rotation fail.
func NewPose(rotation *mat.Dense, translation r3.Vector) (*Pose, error) {
	r, c := rotation.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	if isProperRotation(rotation) {
		return &Pose{rotation: mat.DenseCopyOf(rotation), translation: translation}, nil
	}
	closest, err := multiview.ClosestRotation(rotation)
	if err != nil {
		return nil, err
	}
	return &Pose{rotation: closest, translation: translation}, nil
}

func isProperRotation(m *mat.Dense) bool {
	var gram mat.Dense
	gram.Mul(m.T(), m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(gram.At(i, j)-want) > orthoTol {
				return false
			}
		}
	}
	return mat.Det(m) > 0
}

// Identity is the pose of a camera at the world origin looking down +Z.
func Identity() *Pose {
	return &Pose{
		rotation:    mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		translation: r3.Vector{},
	}
}

// Rotation returns a copy of the 3x3 rotation.
func (p *Pose) Rotation() *mat.Dense { return mat.DenseCopyOf(p.rotation) }

// Translation returns the translation component.
func (p *Pose) Translation() r3.Vector { return p.translation }

// Center is the camera center in world coordinates, -Rᵀ t.
func (p *Pose) Center() r3.Vector {
	r := p.rotation
	t := p.translation
	return r3.Vector{
		X: -(r.At(0, 0)*t.X + r.At(1, 0)*t.Y + r.At(2, 0)*t.Z),
		Y: -(r.At(0, 1)*t.X + r.At(1, 1)*t.Y + r.At(2, 1)*t.Z),
		Z: -(r.At(0, 2)*t.X + r.At(1, 2)*t.Y + r.At(2, 2)*t.Z),
	}
}

// Apply maps a world point into the camera frame.
func (p *Pose) Apply(x r3.Vector) r3.Vector {
	r := p.rotation
	return r3.Vector{
		X: r.At(0, 0)*x.X + r.At(0, 1)*x.Y + r.At(0, 2)*x.Z + p.translation.X,
		Y: r.At(1, 0)*x.X + r.At(1, 1)*x.Y + r.At(1, 2)*x.Z + p.translation.Y,
		Z: r.At(2, 0)*x.X + r.At(2, 1)*x.Y + r.At(2, 2)*x.Z + p.translation.Z,
	}
}

// Depth is the z coordinate of a world point in the camera frame.
func (p *Pose) Depth(x r3.Vector) float64 {
	r := p.rotation
	return r.At(2, 0)*x.X + r.At(2, 1)*x.Y + r.At(2, 2)*x.Z + p.translation.Z
}

// ProjectionMatrix composes K [R|t] for this pose.
func (p *Pose) ProjectionMatrix(k *mat.Dense) *mat.Dense {
	return multiview.PFromKRT(k, p.rotation, p.translation)
}

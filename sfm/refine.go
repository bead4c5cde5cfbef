package sfm

import "github.com/pkg/errors"

// ErrRefinementFailed is returned when non-linear refinement of a scene
// does not converge or rejects its input.
var ErrRefinementFailed = errors.New("refinement failed")

// RefineOptions selects which parameter blocks a refiner may adjust.
type RefineOptions uint32

// Parameter blocks for refinement.
const (
	RefineRotation RefineOptions = 1 << iota
	RefineTranslation
	RefineFocal
	RefineDistortion
	RefineStructure

	RefineAll = RefineRotation | RefineTranslation | RefineFocal | RefineDistortion | RefineStructure
)

// Has reports whether every block in mask is selected.
func (o RefineOptions) Has(mask RefineOptions) bool {
	return o&mask == mask
}

// Refiner improves a scene in place, typically by non-linear least squares
// over reprojection error. Implementations report failure through
// ErrRefinementFailed so callers can keep the unrefined estimate if they
// choose.
type Refiner interface {
	Refine(scene *Scene, options RefineOptions) error
}

// NoopRefiner accepts every scene unchanged. It stands in where a bundle
// adjustment backend is not wired up, and in tests.
type NoopRefiner struct{}

// Refine implements Refiner and does nothing.
func (NoopRefiner) Refine(*Scene, RefineOptions) error { return nil }

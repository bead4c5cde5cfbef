// Package camera models the projection geometry of the cameras in a scene.
//
// A Model maps between 3D points in the camera frame, normalized camera
// coordinates, and pixel coordinates, and understands how to remove lens
// distortion. The set of models is closed; scene files naming an unknown
// model fail to load rather than being silently skipped.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ModelType is the name of a camera projection model.
type ModelType string

const (
	// PinholeModelType is a perspective projection with an optional
	// Brown-Conrady distortion applied in normalized coordinates.
	PinholeModelType = ModelType("pinhole")
)

// Model is the capability interface shared by all camera variants.
type Model interface {
	// Type reports which variant this is.
	Type() ModelType
	// Intrinsics returns the internal projection parameters.
	Intrinsics() *Intrinsics
	// K returns the 3x3 intrinsic matrix.
	K() *mat.Dense
	// Project maps a 3D point in the camera frame to a (distorted) pixel.
	Project(pt r3.Vector) r2.Point
	// Unproject maps a pixel to the unit-depth point on its viewing ray,
	// distortion removed.
	Unproject(pt r2.Point) r3.Vector
	// RemoveDistortion undoes lens distortion on normalized camera
	// coordinates.
	RemoveDistortion(pt r2.Point) r2.Point
	// UndistortPixel maps a measured pixel to where an ideal pinhole
	// camera would have seen it.
	UndistortPixel(pt r2.Point) r2.Point
	// CheckValid reports whether the model parameters are usable.
	CheckValid() error
}

// NewModel returns a Model for a valid ModelType and its intrinsics.
func NewModel(modelType ModelType, intrinsics *Intrinsics, distortion *BrownConrady) (Model, error) {
	switch modelType {
	case PinholeModelType:
		return NewPinhole(intrinsics, distortion)
	default:
		return nil, errors.Errorf("do not know how to parse %q camera model", modelType)
	}
}

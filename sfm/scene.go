// Package sfm holds the scene graph shared by the calibration and
// bootstrap pipelines: views, intrinsics, poses, landmarks with their
// observations, feature tracks, and candidate two-view reconstructions,
// together with their file formats.
package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/camera"
)

// ErrInsufficientData is returned when too few correspondences, views or
// inliers remain to carry an operation.
var ErrInsufficientData = errors.New("insufficient data")

// ID identifies views, intrinsics, poses, landmarks, features and tracks.
type ID int

// UndefinedID marks missing references, such as undetected checkerboard
// cells or unposed views.
const UndefinedID = ID(-1)

// View is a single image in the scene. Multiple views may share one
// intrinsic. PoseID is UndefinedID until the view is posed.
type View struct {
	ID          ID
	IntrinsicID ID
	PoseID      ID
	Width       int
	Height      int
}

// Intrinsic is a camera model shared by one or more views.
type Intrinsic struct {
	ID         ID
	Model      camera.ModelType
	Params     camera.Intrinsics
	Distortion []float64
}

// Camera builds the projection model for this intrinsic. Unknown model
// names fail explicitly.
func (in *Intrinsic) Camera() (camera.Model, error) {
	var dist *camera.BrownConrady
	if len(in.Distortion) > 0 {
		var err error
		dist, err = camera.NewBrownConrady(in.Distortion)
		if err != nil {
			return nil, err
		}
	}
	params := in.Params
	return camera.NewModel(in.Model, &params, dist)
}

// Observation is a single 2D measurement of a landmark in one view. Scale
// is a confidence weight, the inverse of the measurement's reprojection
// scale.
type Observation struct {
	Coords    r2.Point
	FeatureID ID
	Scale     float64
}

// Landmark is a triangulated 3D point with its observations keyed by view.
type Landmark struct {
	X            r3.Vector
	DescType     string
	Observations map[ID]*Observation
}

// Scene is the full reconstruction state.
type Scene struct {
	Views      map[ID]*View
	Intrinsics map[ID]*Intrinsic
	Poses      map[ID]*Pose
	Landmarks  map[ID]*Landmark
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{
		Views:      map[ID]*View{},
		Intrinsics: map[ID]*Intrinsic{},
		Poses:      map[ID]*Pose{},
		Landmarks:  map[ID]*Landmark{},
	}
}

// ValidViews returns the ids of views that reference both an existing
// intrinsic and an existing pose, in increasing order.
func (s *Scene) ValidViews() []ID {
	var out []ID
	for id, v := range s.Views {
		if _, ok := s.Intrinsics[v.IntrinsicID]; !ok {
			continue
		}
		if _, ok := s.Poses[v.PoseID]; !ok {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ViewCamera resolves the camera model of a view.
func (s *Scene) ViewCamera(viewID ID) (camera.Model, error) {
	view, ok := s.Views[viewID]
	if !ok {
		return nil, errors.Errorf("view %d not found", viewID)
	}
	intrinsic, ok := s.Intrinsics[view.IntrinsicID]
	if !ok {
		return nil, errors.Errorf("intrinsic %d of view %d not found", view.IntrinsicID, viewID)
	}
	return intrinsic.Camera()
}

// SortedViewIDs returns all view ids in increasing order.
func (s *Scene) SortedViewIDs() []ID {
	return sortedKeys(s.Views)
}

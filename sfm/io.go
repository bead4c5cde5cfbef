package sfm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/camera"
)

type viewJSON struct {
	ID          ID  `json:"id"`
	IntrinsicID ID  `json:"intrinsic_id"`
	PoseID      ID  `json:"pose_id"`
	Width       int `json:"width_px"`
	Height      int `json:"height_px"`
}

type intrinsicJSON struct {
	ID         ID               `json:"id"`
	Model      camera.ModelType `json:"model"`
	camera.Intrinsics
	Distortion []float64 `json:"distortion,omitempty"`
}

type poseJSON struct {
	ID ID `json:"id"`
	// row-major 3x3
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

type observationJSON struct {
	ViewID    ID         `json:"view_id"`
	FeatureID ID         `json:"feature_id"`
	Coords    [2]float64 `json:"coords"`
	Scale     float64    `json:"scale"`
}

type landmarkJSON struct {
	ID           ID                `json:"id"`
	X            [3]float64        `json:"x"`
	DescType     string            `json:"desc_type,omitempty"`
	Observations []observationJSON `json:"observations"`
}

type sceneJSON struct {
	Views      []viewJSON      `json:"views"`
	Intrinsics []intrinsicJSON `json:"intrinsics"`
	Poses      []poseJSON      `json:"poses"`
	Landmarks  []landmarkJSON  `json:"landmarks"`
}

// LoadScene reads a scene graph from a JSON file.
func LoadScene(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read scene file")
	}
	var doc sceneJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse scene file %q", path)
	}

	scene := NewScene()
	for _, v := range doc.Views {
		scene.Views[v.ID] = &View{
			ID:          v.ID,
			IntrinsicID: v.IntrinsicID,
			PoseID:      v.PoseID,
			Width:       v.Width,
			Height:      v.Height,
		}
	}
	for _, in := range doc.Intrinsics {
		scene.Intrinsics[in.ID] = &Intrinsic{
			ID:         in.ID,
			Model:      in.Model,
			Params:     in.Intrinsics,
			Distortion: in.Distortion,
		}
	}
	for _, p := range doc.Poses {
		rot := mat.NewDense(3, 3, append([]float64{}, p.Rotation[:]...))
		pose, err := NewPose(rot, r3.Vector{X: p.Translation[0], Y: p.Translation[1], Z: p.Translation[2]})
		if err != nil {
			return nil, errors.Wrapf(err, "pose %d", p.ID)
		}
		scene.Poses[p.ID] = pose
	}
	for _, lm := range doc.Landmarks {
		landmark := &Landmark{
			X:            r3.Vector{X: lm.X[0], Y: lm.X[1], Z: lm.X[2]},
			DescType:     lm.DescType,
			Observations: map[ID]*Observation{},
		}
		for _, obs := range lm.Observations {
			landmark.Observations[obs.ViewID] = &Observation{
				Coords:    r2.Point{X: obs.Coords[0], Y: obs.Coords[1]},
				FeatureID: obs.FeatureID,
				Scale:     obs.Scale,
			}
		}
		scene.Landmarks[lm.ID] = landmark
	}
	return scene, nil
}

// SaveScene writes the scene graph as JSON. The write goes through a
// temporary file in the destination directory followed by a rename, so a
// failure partway through never leaves a truncated output behind.
func SaveScene(scene *Scene, path string) error {
	doc := sceneJSON{
		Views:      []viewJSON{},
		Intrinsics: []intrinsicJSON{},
		Poses:      []poseJSON{},
		Landmarks:  []landmarkJSON{},
	}
	for _, id := range scene.SortedViewIDs() {
		v := scene.Views[id]
		doc.Views = append(doc.Views, viewJSON{
			ID:          v.ID,
			IntrinsicID: v.IntrinsicID,
			PoseID:      v.PoseID,
			Width:       v.Width,
			Height:      v.Height,
		})
	}
	for _, id := range sortedKeys(scene.Intrinsics) {
		in := scene.Intrinsics[id]
		doc.Intrinsics = append(doc.Intrinsics, intrinsicJSON{
			ID:         in.ID,
			Model:      in.Model,
			Intrinsics: in.Params,
			Distortion: in.Distortion,
		})
	}
	for _, id := range sortedKeys(scene.Poses) {
		pose := scene.Poses[id]
		rot := pose.Rotation()
		var pj poseJSON
		pj.ID = id
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				pj.Rotation[r*3+c] = rot.At(r, c)
			}
		}
		t := pose.Translation()
		pj.Translation = [3]float64{t.X, t.Y, t.Z}
		doc.Poses = append(doc.Poses, pj)
	}
	for _, id := range sortedKeys(scene.Landmarks) {
		lm := scene.Landmarks[id]
		lj := landmarkJSON{
			ID:           id,
			X:            [3]float64{lm.X.X, lm.X.Y, lm.X.Z},
			DescType:     lm.DescType,
			Observations: []observationJSON{},
		}
		for _, viewID := range sortedKeys(lm.Observations) {
			obs := lm.Observations[viewID]
			lj.Observations = append(lj.Observations, observationJSON{
				ViewID:    viewID,
				FeatureID: obs.FeatureID,
				Coords:    [2]float64{obs.Coords.X, obs.Coords.Y},
				Scale:     obs.Scale,
			})
		}
		doc.Landmarks = append(doc.Landmarks, lj)
	}

	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode scene")
	}
	return atomicWrite(path, raw)
}

type trackItemJSON struct {
	ViewID    ID         `json:"view_id"`
	FeatureID ID         `json:"feature_id"`
	Coords    [2]float64 `json:"coords"`
	Scale     float64    `json:"scale"`
}

type trackJSON struct {
	ID       ID              `json:"id"`
	DescType string          `json:"desc_type,omitempty"`
	Views    []trackItemJSON `json:"views"`
}

type tracksJSON struct {
	Tracks []trackJSON `json:"tracks"`
}

// LoadTracks reads multi-view feature tracks from a JSON file.
func LoadTracks(path string) (TrackSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read tracks file")
	}
	var doc tracksJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse tracks file %q", path)
	}
	tracks := TrackSet{}
	for _, tr := range doc.Tracks {
		track := &Track{DescType: tr.DescType, Views: map[ID]TrackItem{}}
		for _, item := range tr.Views {
			track.Views[item.ViewID] = TrackItem{
				FeatureID: item.FeatureID,
				Coords:    r2.Point{X: item.Coords[0], Y: item.Coords[1]},
				Scale:     item.Scale,
			}
		}
		tracks[tr.ID] = track
	}
	return tracks, nil
}

// atomicWrite writes data next to path and renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "cannot create temporary file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot write temporary file"), tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Close(); err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot close temporary file"), os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot move output into place"), os.Remove(tmpName))
	}
	return nil
}

func sortedKeys[V any](m map[ID]V) []ID {
	out := make([]ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

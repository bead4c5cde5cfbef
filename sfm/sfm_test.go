package sfm

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/camera"
)

func testScene(t *testing.T) *Scene {
	t.Helper()
	scene := NewScene()
	scene.Intrinsics[0] = &Intrinsic{
		ID:    0,
		Model: camera.PinholeModelType,
		Params: camera.Intrinsics{
			Width: 640, Height: 480,
			Fx: 800, Fy: 810, Ppx: 320, Ppy: 240,
		},
		Distortion: []float64{0.01, -0.002, 0, 0, 0},
	}
	scene.Views[0] = &View{ID: 0, IntrinsicID: 0, PoseID: 0, Width: 640, Height: 480}
	scene.Views[1] = &View{ID: 1, IntrinsicID: 0, PoseID: 1, Width: 640, Height: 480}
	scene.Views[2] = &View{ID: 2, IntrinsicID: 0, PoseID: UndefinedID, Width: 640, Height: 480}

	scene.Poses[0] = Identity()
	rot := mat.NewDense(3, 3, []float64{
		0.9950041652780258, 0, 0.09983341664682815,
		0, 1, 0,
		-0.09983341664682815, 0, 0.9950041652780258,
	})
	pose, err := NewPose(rot, r3.Vector{X: -1, Y: 0.05, Z: 0.2})
	test.That(t, err, test.ShouldBeNil)
	scene.Poses[1] = pose

	scene.Landmarks[0] = &Landmark{
		X:        r3.Vector{X: 0.5, Y: -0.25, Z: 4},
		DescType: "sift",
		Observations: map[ID]*Observation{
			0: {Coords: r2.Point{X: 420, Y: 190}, FeatureID: 12, Scale: 1},
			1: {Coords: r2.Point{X: 260, Y: 195}, FeatureID: 40, Scale: 2},
		},
	}
	return scene
}

func TestSceneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.json")

	scene := testScene(t)
	test.That(t, SaveScene(scene, path), test.ShouldBeNil)

	loaded, err := LoadScene(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Views, test.ShouldHaveLength, 3)
	test.That(t, loaded.Intrinsics, test.ShouldHaveLength, 1)
	test.That(t, loaded.Poses, test.ShouldHaveLength, 2)
	test.That(t, loaded.Landmarks, test.ShouldHaveLength, 1)
	test.That(t, loaded.Views[2].PoseID, test.ShouldEqual, UndefinedID)
	test.That(t, loaded.Landmarks[0].Observations[1].FeatureID, test.ShouldEqual, ID(40))
	test.That(t, loaded.Landmarks[0].Observations[1].Scale, test.ShouldEqual, 2.0)

	// an untouched reload serializes to the same bytes
	path2 := filepath.Join(dir, "scene2.json")
	test.That(t, SaveScene(loaded, path2), test.ShouldBeNil)
	first, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	second, err := os.ReadFile(path2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(second), test.ShouldEqual, string(first))
}

func TestSaveSceneNoPartialOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "scene.json")
	err := SaveScene(testScene(t), path)
	test.That(t, err, test.ShouldNotBeNil)
	_, statErr := os.Stat(path)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestValidViews(t *testing.T) {
	scene := testScene(t)
	test.That(t, scene.ValidViews(), test.ShouldResemble, []ID{0, 1})

	scene.Views[1].IntrinsicID = 99
	test.That(t, scene.ValidViews(), test.ShouldResemble, []ID{0})
}

func TestPoseOrthonormalization(t *testing.T) {
	rot := mat.NewDense(3, 3, []float64{
		1.01, 0.02, 0,
		-0.01, 0.99, 0,
		0, 0.01, 1.02,
	})
	pose, err := NewPose(rot, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, err, test.ShouldBeNil)

	got := pose.Rotation()
	var rtr mat.Dense
	rtr.Mul(got.T(), got)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, rtr.At(i, j), test.ShouldAlmostEqual, want, 1e-9)
		}
	}

	_, err = NewPose(mat.NewDense(2, 3, nil), r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewPoseKeepsOrthonormalInput(t *testing.T) {
	s, c := math.Sin(0.1), math.Cos(0.1)
	raw := []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}
	pose, err := NewPose(mat.NewDense(3, 3, append([]float64{}, raw...)), r3.Vector{X: 1})
	test.That(t, err, test.ShouldBeNil)

	got := pose.Rotation()
	for i, want := range raw {
		test.That(t, got.At(i/3, i%3), test.ShouldEqual, want)
	}

	// a reflection is not kept verbatim, it gets projected
	flipped, err := NewPose(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1}), r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(flipped.Rotation()) > 0, test.ShouldBeTrue)
}

func TestPoseCenterAndDepth(t *testing.T) {
	pose := Identity()
	test.That(t, pose.Center(), test.ShouldResemble, r3.Vector{})
	test.That(t, pose.Depth(r3.Vector{X: 1, Y: 2, Z: 7}), test.ShouldEqual, 7.0)

	moved, err := NewPose(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), r3.Vector{X: 0, Y: 0, Z: -2})
	test.That(t, err, test.ShouldBeNil)
	// camera sits at z = 2 looking down +Z
	test.That(t, moved.Center().Z, test.ShouldAlmostEqual, 2.0)
	test.That(t, moved.Depth(r3.Vector{Z: 5}), test.ShouldAlmostEqual, 3.0)
	test.That(t, moved.Apply(r3.Vector{X: 1, Z: 5}), test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 3})
}

func TestCommonTracks(t *testing.T) {
	tracks := TrackSet{
		3: {Views: map[ID]TrackItem{0: {}, 1: {}}},
		1: {Views: map[ID]TrackItem{0: {}, 1: {}, 2: {}}},
		2: {Views: map[ID]TrackItem{0: {}}},
	}
	test.That(t, tracks.CommonTracks(0, 1), test.ShouldResemble, []ID{1, 3})
	test.That(t, tracks.CommonTracks(1, 2), test.ShouldResemble, []ID{1})
	test.That(t, tracks.CommonTracks(2, 3), test.ShouldBeEmpty)
}

func TestLoadTracks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracks.json")
	doc := `{"tracks":[
		{"id":5,"desc_type":"sift","views":[
			{"view_id":0,"feature_id":7,"coords":[10.5,20.25],"scale":1.5},
			{"view_id":1,"feature_id":9,"coords":[30,40],"scale":1}
		]}
	]}`
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	tracks, err := LoadTracks(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tracks, test.ShouldHaveLength, 1)
	item := tracks[5].Views[0]
	test.That(t, item.FeatureID, test.ShouldEqual, ID(7))
	test.That(t, item.Coords, test.ShouldResemble, r2.Point{X: 10.5, Y: 20.25})
	test.That(t, item.Scale, test.ShouldEqual, 1.5)

	_, err = LoadTracks(filepath.Join(dir, "absent.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadBoardDetection(t *testing.T) {
	dir := t.TempDir()
	path := BoardDetectionPath(dir, 4)
	test.That(t, filepath.Base(path), test.ShouldEqual, "checkers_4.json")

	doc := `{
		"boards":[{"rows":2,"cols":3,"cells":[0,1,-1,2,3,4]}],
		"corners":[[10,10],[20,10],[10,20],[20,20],[30,20]]
	}`
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	det, err := LoadBoardDetection(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.Boards, test.ShouldHaveLength, 1)
	test.That(t, det.Boards[0].DetectedCount(), test.ShouldEqual, 5)
	test.That(t, det.Boards[0].At(0, 2), test.ShouldEqual, UndefinedID)

	pt, ok := det.Corner(det.Boards[0].At(1, 0))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pt, test.ShouldResemble, r2.Point{X: 10, Y: 20})
	_, ok = det.Corner(UndefinedID)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestLoadBoardDetectionRejectsBadGrids(t *testing.T) {
	dir := t.TempDir()
	badShape := filepath.Join(dir, "checkers_0.json")
	test.That(t, os.WriteFile(badShape, []byte(`{"boards":[{"rows":2,"cols":2,"cells":[0,1,2]}],"corners":[[0,0],[1,1],[2,2]]}`), 0o600), test.ShouldBeNil)
	_, err := LoadBoardDetection(badShape)
	test.That(t, err, test.ShouldNotBeNil)

	badRef := filepath.Join(dir, "checkers_1.json")
	test.That(t, os.WriteFile(badRef, []byte(`{"boards":[{"rows":1,"cols":2,"cells":[0,9]}],"corners":[[0,0],[1,1]]}`), 0o600), test.ShouldBeNil)
	_, err = LoadBoardDetection(badRef)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadPairsDirectory(t *testing.T) {
	dir := t.TempDir()
	pairA := `[{"reference":0,"next":1,"rotation":[1,0,0,0,1,0,0,0,1],"translation":[1,0,0]}]`
	pairB := `[{"reference":0,"next":2,"rotation":[1,0,0,0,1,0,0,0,1],"translation":[0,1,0]}]`
	test.That(t, os.WriteFile(filepath.Join(dir, "pairs_1.json"), []byte(pairB), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "pairs_0.json"), []byte(pairA), 0o600), test.ShouldBeNil)
	// files that do not match the naming scheme are ignored
	test.That(t, os.WriteFile(filepath.Join(dir, "pairs_extra.json"), []byte(`bogus`), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`bogus`), 0o600), test.ShouldBeNil)

	pairs, err := LoadPairsDirectory(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pairs, test.ShouldHaveLength, 2)
	test.That(t, pairs[0].Next, test.ShouldEqual, ID(1))
	test.That(t, pairs[1].Next, test.ShouldEqual, ID(2))
	test.That(t, pairs[0].Translation, test.ShouldResemble, r3.Vector{X: 1})
}

func TestRefineOptions(t *testing.T) {
	opts := RefineRotation | RefineTranslation
	test.That(t, opts.Has(RefineRotation), test.ShouldBeTrue)
	test.That(t, opts.Has(RefineFocal), test.ShouldBeFalse)
	test.That(t, RefineAll.Has(RefineDistortion|RefineStructure), test.ShouldBeTrue)

	var refiner Refiner = NoopRefiner{}
	test.That(t, refiner.Refine(testScene(t), RefineAll), test.ShouldBeNil)
}

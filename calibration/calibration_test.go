package calibration

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/camera"
	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/sfm"
)

func rotationXYZ(rx, ry, rz float64) *mat.Dense {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)
	rotX := mat.NewDense(3, 3, []float64{1, 0, 0, 0, cx, -sx, 0, sx, cx})
	rotY := mat.NewDense(3, 3, []float64{cy, 0, sy, 0, 1, 0, -sy, 0, cy})
	rotZ := mat.NewDense(3, 3, []float64{cz, -sz, 0, sz, cz, 0, 0, 0, 1})
	out := mat.NewDense(3, 3, nil)
	out.Mul(rotZ, rotY)
	out.Mul(out, rotX)
	return out
}

func testIntrinsics() camera.Intrinsics {
	return camera.Intrinsics{
		Width: 640, Height: 480,
		Fx: 800, Fy: 790, Skew: 0.5, Ppx: 325, Ppy: 242,
	}
}

// boardHomography builds the exact board-plane-to-image homography
// K [r1 r2 t] of a posed camera.
func boardHomography(k, rot *mat.Dense, t r3.Vector) *mat.Dense {
	rt := mat.NewDense(3, 3, []float64{
		rot.At(0, 0), rot.At(0, 1), t.X,
		rot.At(1, 0), rot.At(1, 1), t.Y,
		rot.At(2, 0), rot.At(2, 1), t.Z,
	})
	h := mat.NewDense(3, 3, nil)
	h.Mul(k, rt)
	return h
}

func testPoses() ([]*mat.Dense, []r3.Vector) {
	rotations := []*mat.Dense{
		rotationXYZ(0.1, 0.2, 0.05),
		rotationXYZ(-0.25, 0.1, -0.1),
		rotationXYZ(0.05, -0.3, 0.2),
		rotationXYZ(0.3, 0.15, -0.05),
	}
	translations := []r3.Vector{
		{X: -0.3, Y: -0.2, Z: 1.2},
		{X: -0.25, Y: -0.3, Z: 1.5},
		{X: -0.4, Y: -0.15, Z: 1.1},
		{X: -0.2, Y: -0.25, Z: 1.4},
	}
	return rotations, translations
}

func TestIntrinsicsFromHomographies(t *testing.T) {
	params := testIntrinsics()
	k := params.K()
	rotations, translations := testPoses()

	var hs []*mat.Dense
	for i := range rotations {
		h := boardHomography(k, rotations[i], translations[i])
		// the recovery must not depend on the homography scale
		h.Scale(0.5+float64(i), h)
		hs = append(hs, h)
	}

	got, err := intrinsicsFromHomographies(hs)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got.At(i, j), test.ShouldAlmostEqual, k.At(i, j), 1e-6)
		}
	}
}

func TestIntrinsicsFromHomographiesTooFew(t *testing.T) {
	params := testIntrinsics()
	k := params.K()
	rotations, translations := testPoses()
	hs := []*mat.Dense{
		boardHomography(k, rotations[0], translations[0]),
		boardHomography(k, rotations[1], translations[1]),
	}
	_, err := intrinsicsFromHomographies(hs)
	test.That(t, errors.Is(err, sfm.ErrInsufficientData), test.ShouldBeTrue)
}

func TestPoseFromHomography(t *testing.T) {
	params := testIntrinsics()
	k := params.K()
	rot := rotationXYZ(0.2, -0.15, 0.1)
	tr := r3.Vector{X: -0.2, Y: -0.1, Z: 1.3}

	h := boardHomography(k, rot, tr)
	h.Scale(-2.5, h) // arbitrary scale and sign

	var kInv mat.Dense
	test.That(t, kInv.Inverse(k), test.ShouldBeNil)

	pose, err := poseFromHomography(&kInv, h)
	test.That(t, err, test.ShouldBeNil)

	gotR := pose.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, gotR.At(i, j), test.ShouldAlmostEqual, rot.At(i, j), 1e-8)
		}
	}
	gotT := pose.Translation()
	test.That(t, gotT.X, test.ShouldAlmostEqual, tr.X, 1e-8)
	test.That(t, gotT.Y, test.ShouldAlmostEqual, tr.Y, 1e-8)
	test.That(t, gotT.Z, test.ShouldAlmostEqual, tr.Z, 1e-8)
	// the board must sit in front of the camera
	test.That(t, gotT.Z, test.ShouldBeGreaterThan, 0)
}

// syntheticDetection projects a full rows x cols board with the given pose
// into a detection file structure.
func syntheticDetection(rows, cols int, squareSize float64, params *camera.Intrinsics, rot *mat.Dense, tr r3.Vector) *sfm.BoardDetection {
	p := multiview.PFromKRT(params.K(), rot, tr)
	det := &sfm.BoardDetection{}
	board := sfm.CheckerBoard{Rows: rows, Cols: cols}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			world := r3.Vector{X: float64(j) * squareSize, Y: float64(i) * squareSize}
			u := p.At(0, 0)*world.X + p.At(0, 1)*world.Y + p.At(0, 3)
			v := p.At(1, 0)*world.X + p.At(1, 1)*world.Y + p.At(1, 3)
			w := p.At(2, 0)*world.X + p.At(2, 1)*world.Y + p.At(2, 3)
			board.Cells = append(board.Cells, sfm.ID(len(det.Corners)))
			det.Corners = append(det.Corners, r2.Point{X: u / w, Y: v / w})
		}
	}
	det.Boards = []sfm.CheckerBoard{board}
	return det
}

func TestCalibrateIntrinsics(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := testIntrinsics()
	rotations, translations := testPoses()
	const squareSize = 0.1

	scene := sfm.NewScene()
	scene.Intrinsics[0] = &sfm.Intrinsic{
		ID:    0,
		Model: camera.PinholeModelType,
		// focal and principal point start away from the truth
		Params: camera.Intrinsics{Width: 640, Height: 480, Fx: 1000, Fy: 1000, Ppx: 320, Ppy: 240},
	}
	boards := map[sfm.ID]*sfm.BoardDetection{}
	for i := range rotations {
		id := sfm.ID(i)
		scene.Views[id] = &sfm.View{ID: id, IntrinsicID: 0, PoseID: sfm.UndefinedID, Width: 640, Height: 480}
		boards[id] = syntheticDetection(6, 9, squareSize, &params, rotations[i], translations[i])
	}

	err := CalibrateIntrinsics(scene, boards, Options{SquareSize: squareSize, Refiner: sfm.NoopRefiner{}}, logger)
	test.That(t, err, test.ShouldBeNil)

	got := scene.Intrinsics[0].Params
	test.That(t, got.Fx, test.ShouldAlmostEqual, params.Fx, 1e-4)
	test.That(t, got.Fy, test.ShouldAlmostEqual, params.Fy, 1e-4)
	test.That(t, got.Skew, test.ShouldAlmostEqual, params.Skew, 1e-4)
	test.That(t, got.Ppx, test.ShouldAlmostEqual, params.Ppx, 1e-4)
	test.That(t, got.Ppy, test.ShouldAlmostEqual, params.Ppy, 1e-4)

	// every view got a pose and the landmark grid covers the board
	test.That(t, scene.Poses, test.ShouldHaveLength, len(rotations))
	test.That(t, scene.Landmarks, test.ShouldHaveLength, 6*9)
	for i := range rotations {
		pose := scene.Poses[sfm.ID(i)]
		test.That(t, pose, test.ShouldNotBeNil)
		gotR := pose.Rotation()
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				test.That(t, gotR.At(r, c), test.ShouldAlmostEqual, rotations[i].At(r, c), 1e-4)
			}
		}
	}
	for _, landmark := range scene.Landmarks {
		test.That(t, len(landmark.Observations), test.ShouldEqual, len(rotations))
	}
}

func TestCalibrateIntrinsicsTooFewViews(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := testIntrinsics()
	rotations, translations := testPoses()

	scene := sfm.NewScene()
	scene.Intrinsics[0] = &sfm.Intrinsic{
		ID:     0,
		Model:  camera.PinholeModelType,
		Params: camera.Intrinsics{Width: 640, Height: 480, Fx: 1000, Fy: 1000, Ppx: 320, Ppy: 240},
	}
	boards := map[sfm.ID]*sfm.BoardDetection{}
	for i := 0; i < 2; i++ {
		id := sfm.ID(i)
		scene.Views[id] = &sfm.View{ID: id, IntrinsicID: 0, PoseID: sfm.UndefinedID, Width: 640, Height: 480}
		boards[id] = syntheticDetection(6, 9, 0.1, &params, rotations[i], translations[i])
	}

	err := CalibrateIntrinsics(scene, boards, Options{SquareSize: 0.1}, logger)
	test.That(t, errors.Is(err, sfm.ErrInsufficientData), test.ShouldBeTrue)
}

// resectDetection projects one centered board of the given square size.
func resectDetection(det *sfm.BoardDetection, rows, cols int, squareSize float64, params *camera.Intrinsics, rot *mat.Dense, tr r3.Vector) {
	p := multiview.PFromKRT(params.K(), rot, tr)
	cx := float64(cols / 2)
	cy := float64(rows / 2)
	board := sfm.CheckerBoard{Rows: rows, Cols: cols}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			world := r3.Vector{X: (float64(j) - cx) * squareSize, Y: (float64(i) - cy) * squareSize}
			u := p.At(0, 0)*world.X + p.At(0, 1)*world.Y + p.At(0, 3)
			v := p.At(1, 0)*world.X + p.At(1, 1)*world.Y + p.At(1, 3)
			w := p.At(2, 0)*world.X + p.At(2, 1)*world.Y + p.At(2, 3)
			board.Cells = append(board.Cells, sfm.ID(len(det.Corners)))
			det.Corners = append(det.Corners, r2.Point{X: u / w, Y: v / w})
		}
	}
	det.Boards = append(det.Boards, board)
}

func TestResectBoards(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := camera.Intrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}

	const viewID = sfm.ID(10)
	scene := sfm.NewScene()
	scene.Intrinsics[0] = &sfm.Intrinsic{ID: 0, Model: camera.PinholeModelType, Params: params}
	scene.Views[viewID] = &sfm.View{ID: viewID, IntrinsicID: 0, PoseID: sfm.UndefinedID, Width: 640, Height: 480}

	// center-most board at the initial square size, a second one further
	// out at double the size
	det := &sfm.BoardDetection{}
	centerRot := rotationXYZ(0, 0, 0)
	centerTr := r3.Vector{Z: 2}
	resectDetection(det, 6, 6, 0.25, &params, centerRot, centerTr)
	resectDetection(det, 6, 6, 0.5, &params, rotationXYZ(0.05, -0.04, 0.02), r3.Vector{X: 0.4, Y: 0.1, Z: 3})

	err := ResectBoards(scene, viewID, det, ResectOptions{Refiner: sfm.NoopRefiner{}}, logger)
	test.That(t, err, test.ShouldBeNil)

	// only the real view survives, posed from the center-most board
	test.That(t, scene.Views, test.ShouldHaveLength, 1)
	test.That(t, scene.Poses, test.ShouldHaveLength, 1)
	test.That(t, scene.Views[viewID].PoseID, test.ShouldEqual, viewID)

	pose := scene.Poses[viewID]
	test.That(t, pose, test.ShouldNotBeNil)
	gotT := pose.Translation()
	test.That(t, gotT.X, test.ShouldAlmostEqual, centerTr.X, 1e-6)
	test.That(t, gotT.Y, test.ShouldAlmostEqual, centerTr.Y, 1e-6)
	test.That(t, gotT.Z, test.ShouldAlmostEqual, centerTr.Z, 1e-6)

	// both boards contributed landmarks; only the center board's kept its
	// observations through the collapse
	test.That(t, scene.Landmarks, test.ShouldHaveLength, 2*6*6)
	observed := 0
	for _, landmark := range scene.Landmarks {
		observed += len(landmark.Observations)
	}
	test.That(t, observed, test.ShouldEqual, 6*6)

	residuals, err := Residuals(scene)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, residuals, test.ShouldHaveLength, 6*6)
	for _, r := range residuals {
		test.That(t, r, test.ShouldBeLessThan, 1e-6)
	}
}

func TestResectBoardsSkipsSmallBoards(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := camera.Intrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}

	scene := sfm.NewScene()
	scene.Intrinsics[0] = &sfm.Intrinsic{ID: 0, Model: camera.PinholeModelType, Params: params}
	scene.Views[0] = &sfm.View{ID: 0, IntrinsicID: 0, PoseID: sfm.UndefinedID, Width: 640, Height: 480}

	// a 4x4 board has fewer than the minimum number of corners
	det := &sfm.BoardDetection{}
	resectDetection(det, 4, 4, 0.25, &params, rotationXYZ(0, 0, 0), r3.Vector{Z: 2})

	err := ResectBoards(scene, 0, det, ResectOptions{}, logger)
	test.That(t, errors.Is(err, sfm.ErrInsufficientData), test.ShouldBeTrue)
}

func TestResidualHistogram(t *testing.T) {
	params := camera.Intrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}
	scene := sfm.NewScene()
	scene.Intrinsics[0] = &sfm.Intrinsic{ID: 0, Model: camera.PinholeModelType, Params: params}
	scene.Views[0] = &sfm.View{ID: 0, IntrinsicID: 0, PoseID: 0, Width: 640, Height: 480}
	scene.Poses[0] = sfm.Identity()

	x := r3.Vector{X: 0.1, Y: -0.2, Z: 3}
	model, err := scene.ViewCamera(0)
	test.That(t, err, test.ShouldBeNil)
	exact := model.Project(x)
	scene.Landmarks[0] = &sfm.Landmark{
		X: x,
		Observations: map[sfm.ID]*sfm.Observation{
			0: {Coords: r2.Point{X: exact.X + 0.5, Y: exact.Y}, FeatureID: 0, Scale: 1},
		},
	}

	hist, err := ResidualHistogram(scene, 2.0, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hist.Count(), test.ShouldEqual, 1)
	test.That(t, hist.Bins()[1], test.ShouldEqual, 1)
}

package calibration

import (
	"math"
	"math/rand"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/ransac"
	"go.viam.com/sfminit/sfm"
)

const (
	// minBoardCorners is the detection size below which a board is skipped.
	minBoardCorners = 30
	// minResectionInliers is the pose support below which resection fails.
	minResectionInliers = 10
	// initialLocalSquareSize seeds the assumed square width of the
	// center-most board; boards further out double it until fixed.
	initialLocalSquareSize = 0.25
)

// ResectOptions tune single-view multi-board calibration.
type ResectOptions struct {
	// MaxIterations caps each robust pose fit. Zero means 1000.
	MaxIterations int
	// SimplePinhole centers the principal point, drops distortion and locks
	// the pixel aspect ratio, storing undistorted observations.
	SimplePinhole bool
	// Rng drives the robust estimation. Nil means a fixed seed.
	Rng *rand.Rand
	// Refiner runs after the linear initialization. Nil skips refinement.
	Refiner sfm.Refiner
}

func (o *ResectOptions) fill() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 1000
	}
	if o.Rng == nil {
		o.Rng = rand.New(rand.NewSource(0))
	}
}

// ResectBoards calibrates a camera from one view containing several
// checkerboards at unknown relative scales. Each board is treated as a
// virtual view of one shared metric board: boards are visited from the
// image center outward, posed independently by robust three-point
// resection, and handed to the refiner as a miniature multi-view problem.
// On success the scene holds the single real view again, posed from the
// center-most board, with refined intrinsics.
func ResectBoards(scene *sfm.Scene, viewID sfm.ID, det *sfm.BoardDetection, opts ResectOptions, logger golog.Logger) error {
	opts.fill()

	view, ok := scene.Views[viewID]
	if !ok {
		return errors.Errorf("view %d not found", viewID)
	}
	intrinsic, ok := scene.Intrinsics[view.IntrinsicID]
	if !ok {
		return errors.Errorf("intrinsic %d not found", view.IntrinsicID)
	}
	model, err := intrinsic.Camera()
	if err != nil {
		return err
	}
	if len(det.Boards) < 1 {
		return errors.Wrap(sfm.ErrInsufficientData, "view has no checkerboards")
	}

	scene.Landmarks = map[sfm.ID]*sfm.Landmark{}
	scene.Poses = map[sfm.ID]*sfm.Pose{}

	center := r2.Point{X: 0.5 * float64(view.Width), Y: 0.5 * float64(view.Height)}
	boards := append([]sfm.CheckerBoard{}, det.Boards...)
	sort.SliceStable(boards, func(i, j int) bool {
		return minCornerDistance(&boards[i], det, center) < minCornerDistance(&boards[j], det, center)
	})

	kMat := intrinsic.Params.K()
	localSquareSize := initialLocalSquareSize
	validBoards := 0

	for bi := range boards {
		board := &boards[bi]
		if board.DetectedCount() < minBoardCorners {
			continue
		}

		cx := float64(board.Cols / 2)
		cy := float64(board.Rows / 2)

		var worldPts []r3.Vector
		var imgPts []r2.Point
		type pendingObs struct {
			landmarkID sfm.ID
			obs        *sfm.Observation
		}
		var pending []pendingObs

		for i := 0; i < board.Rows; i++ {
			for j := 0; j < board.Cols; j++ {
				cid := board.At(i, j)
				corner, ok := det.Corner(cid)
				if !ok {
					continue
				}

				refpt := r3.Vector{
					X: (float64(j) - cx) * localSquareSize,
					Y: (float64(i) - cy) * localSquareSize,
				}
				undistorted := model.UndistortPixel(corner)

				campt := model.RemoveDistortion(intrinsic.Params.PixelToCam(corner))
				scale := math.Max(0.4, math.Max(math.Abs(campt.X), math.Abs(campt.Y)))

				coords := corner
				if opts.SimplePinhole {
					coords = undistorted
				}
				landmarkID := sfm.ID(len(scene.Landmarks))
				scene.Landmarks[landmarkID] = &sfm.Landmark{
					X:            refpt,
					DescType:     descTypeCheckerboard,
					Observations: map[sfm.ID]*sfm.Observation{},
				}
				pending = append(pending, pendingObs{
					landmarkID: landmarkID,
					obs:        &sfm.Observation{Coords: coords, FeatureID: cid, Scale: 1.0 / scale},
				})

				worldPts = append(worldPts, refpt)
				imgPts = append(imgPts, undistorted)
			}
		}

		kernel, err := multiview.NewResectionKernel(imgPts, worldPts, nil, kMat, view.Width, view.Height)
		if err != nil {
			return err
		}
		result, err := ransac.Estimate(opts.Rng, kernel, ransac.Options{MaxIterations: opts.MaxIterations})
		if err != nil {
			return errors.Wrapf(err, "impossible to find pose for board %d", bi)
		}
		if len(result.Inliers) < minResectionInliers {
			return errors.Wrapf(ransac.ErrNoModelFound,
				"board %d pose has only %d inliers", bi, len(result.Inliers))
		}

		_, rot, t, err := multiview.KRTFromP(result.Model)
		if err != nil {
			return errors.Wrapf(err, "board %d", bi)
		}
		pose, err := sfm.NewPose(rot, t)
		if err != nil {
			return errors.Wrapf(err, "board %d", bi)
		}

		virtualID := sfm.ID(validBoards)
		scene.Poses[virtualID] = pose
		scene.Views[virtualID] = &sfm.View{
			ID:          virtualID,
			IntrinsicID: view.IntrinsicID,
			PoseID:      virtualID,
			Width:       view.Width,
			Height:      view.Height,
		}
		for _, p := range pending {
			scene.Landmarks[p.landmarkID].Observations[virtualID] = p.obs
		}

		if validBoards < 2 {
			localSquareSize *= 2.0
		}
		validBoards++
	}

	if validBoards == 0 {
		return errors.Wrap(sfm.ErrInsufficientData, "no board has enough corners")
	}

	if opts.SimplePinhole {
		intrinsic.Params.Ppx = 0.5 * float64(view.Width)
		intrinsic.Params.Ppy = 0.5 * float64(view.Height)
		intrinsic.Distortion = nil
	}

	if opts.Refiner != nil {
		refineOpts := sfm.RefineRotation | sfm.RefineTranslation | sfm.RefineDistortion
		if err := opts.Refiner.Refine(scene, refineOpts); err != nil {
			return errors.Wrap(sfm.ErrRefinementFailed, err.Error())
		}
		if opts.SimplePinhole {
			lockAspectRatio(scene, intrinsic)
			if err := opts.Refiner.Refine(scene, refineOpts); err != nil {
				return errors.Wrap(sfm.ErrRefinementFailed, err.Error())
			}
		}
	}

	collapseVirtualViews(scene, view, viewID, validBoards)
	logResiduals(scene, logger)
	return nil
}

// lockAspectRatio rescales every observation's vertical coordinate from the
// fy axis to the fx axis and then forces fy = fx.
func lockAspectRatio(scene *sfm.Scene, intrinsic *sfm.Intrinsic) {
	params := &intrinsic.Params
	for _, landmark := range scene.Landmarks {
		for _, obs := range landmark.Observations {
			y := (obs.Coords.Y - params.Ppy) / params.Fy
			obs.Coords.Y = y*params.Fx + params.Ppy
		}
	}
	params.Fy = params.Fx
}

// collapseVirtualViews replaces the per-board virtual views with the real
// view, keeping the pose of the center-most board. Observations made by the
// surviving virtual view are re-keyed to the real view; the rest are
// dropped with their landmarks left in place.
func collapseVirtualViews(scene *sfm.Scene, view *sfm.View, viewID sfm.ID, validBoards int) {
	keptPose := scene.Poses[0]
	scene.Views = map[sfm.ID]*sfm.View{viewID: view}
	scene.Poses = map[sfm.ID]*sfm.Pose{viewID: keptPose}
	view.PoseID = viewID

	for _, landmark := range scene.Landmarks {
		kept, ok := landmark.Observations[0]
		landmark.Observations = map[sfm.ID]*sfm.Observation{}
		if ok {
			landmark.Observations[viewID] = kept
		}
	}
}

// minCornerDistance is the distance from the image center to the board's
// closest detected corner.
func minCornerDistance(board *sfm.CheckerBoard, det *sfm.BoardDetection, center r2.Point) float64 {
	min := math.MaxFloat64
	for _, cid := range board.Cells {
		corner, ok := det.Corner(cid)
		if !ok {
			continue
		}
		if d := corner.Sub(center).Norm(); d < min {
			min = d
		}
	}
	return min
}

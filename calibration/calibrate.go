package calibration

import (
	"math/rand"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/ransac"
	"go.viam.com/sfminit/sfm"
)

const (
	// minHomographyInliers is the support below which a view's board
	// correspondences are considered unreliable.
	minHomographyInliers = 10
	descTypeCheckerboard = "sift"
)

// Options tune intrinsic calibration.
type Options struct {
	// SquareSize is the checkerboard square width in meters. Zero means 0.1.
	SquareSize float64
	// MaxIterations caps each robust homography fit. Zero means 1024.
	MaxIterations int
	// Rng drives the robust estimation. Nil means a fixed seed, so repeated
	// runs on the same input give the same output.
	Rng *rand.Rand
	// Refiner runs after the linear initialization. Nil skips refinement.
	Refiner sfm.Refiner
}

func (o *Options) fill() {
	if o.SquareSize <= 0 {
		o.SquareSize = 0.1
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 1024
	}
	if o.Rng == nil {
		o.Rng = rand.New(rand.NewSource(0))
	}
}

type viewHomography struct {
	viewID sfm.ID
	h      *mat.Dense
	board  *sfm.CheckerBoard
	det    *sfm.BoardDetection
}

// CalibrateIntrinsics estimates the intrinsic matrix of every camera in the
// scene from views of a planar checkerboard, then initializes a pose per
// usable view and a landmark per board corner so a refiner can polish the
// result. Views whose detection is missing, ambiguous, or too poorly
// explained by a homography are dropped; each intrinsic needs at least
// three surviving views. All intrinsics must observe the same board.
func CalibrateIntrinsics(scene *sfm.Scene, boards map[sfm.ID]*sfm.BoardDetection, opts Options, logger golog.Logger) error {
	opts.fill()
	if len(boards) < 2 {
		return errors.Wrap(sfm.ErrInsufficientData, "at least 2 views with detections are needed")
	}

	gridRows, gridCols := 0, 0
	firstIntrinsic := true

	for _, intrinsicID := range sortedIntrinsicIDs(scene) {
		intrinsic := scene.Intrinsics[intrinsicID]
		model, err := intrinsic.Camera()
		if err != nil {
			return err
		}
		logger.Infof("processing intrinsic %d", intrinsicID)

		maxRows, maxCols := 0, 0
		var homographies []viewHomography
		for _, viewID := range scene.SortedViewIDs() {
			view := scene.Views[viewID]
			if view.IntrinsicID != intrinsicID {
				continue
			}
			det, ok := boards[viewID]
			if !ok || len(det.Boards) != 1 {
				logger.Warnf("view %d has either 0 or more than 1 checkerboard, skipping", viewID)
				continue
			}
			board := &det.Boards[0]
			if board.Rows > maxRows {
				maxRows = board.Rows
			}
			if board.Cols > maxCols {
				maxCols = board.Cols
			}

			var refpts, imgpts []r2.Point
			for i := 0; i < board.Rows; i++ {
				for j := 0; j < board.Cols; j++ {
					corner, ok := det.Corner(board.At(i, j))
					if !ok {
						continue
					}
					refpts = append(refpts, r2.Point{
						X: float64(j) * opts.SquareSize,
						Y: float64(i) * opts.SquareSize,
					})
					imgpts = append(imgpts, model.UndistortPixel(corner))
				}
			}

			kernel, err := multiview.NewHomographyKernel(refpts, imgpts, view.Width, view.Height)
			if err != nil {
				return errors.Wrapf(err, "view %d", viewID)
			}
			result, err := ransac.Estimate(opts.Rng, kernel, ransac.Options{MaxIterations: opts.MaxIterations})
			if err != nil {
				logger.Warnf("view %d: no homography found, skipping", viewID)
				continue
			}
			if len(result.Inliers) < minHomographyInliers {
				logger.Warnf("view %d: only %d homography inliers, skipping", viewID, len(result.Inliers))
				continue
			}
			homographies = append(homographies, viewHomography{viewID: viewID, h: result.Model, board: board, det: det})
		}

		hs := make([]*mat.Dense, len(homographies))
		for i, vh := range homographies {
			hs[i] = vh.h
		}
		k, err := intrinsicsFromHomographies(hs)
		if err != nil {
			return errors.Wrapf(err, "intrinsic %d", intrinsicID)
		}
		applyKToIntrinsics(&intrinsic.Params, k)

		if firstIntrinsic {
			// one landmark per board corner, shared by every intrinsic
			for i := 0; i < maxRows; i++ {
				for j := 0; j < maxCols; j++ {
					id := sfm.ID(i*maxCols + j)
					scene.Landmarks[id] = &sfm.Landmark{
						X:            r3.Vector{X: float64(j) * opts.SquareSize, Y: float64(i) * opts.SquareSize},
						DescType:     descTypeCheckerboard,
						Observations: map[sfm.ID]*sfm.Observation{},
					}
				}
			}
			gridRows, gridCols = maxRows, maxCols
			firstIntrinsic = false
		} else if gridRows != maxRows || gridCols != maxCols {
			return errors.Errorf("inconsistent checkerboard size: %dx%d vs %dx%d", maxRows, maxCols, gridRows, gridCols)
		}

		var kInv mat.Dense
		if err := kInv.Inverse(k); err != nil {
			return errors.Wrap(multiview.ErrDegenerateGeometry, "recovered intrinsic matrix is singular")
		}
		for _, vh := range homographies {
			pose, err := poseFromHomography(&kInv, vh.h)
			if err != nil {
				return errors.Wrapf(err, "view %d", vh.viewID)
			}
			scene.Poses[vh.viewID] = pose
			scene.Views[vh.viewID].PoseID = vh.viewID

			for i := 0; i < vh.board.Rows; i++ {
				for j := 0; j < vh.board.Cols; j++ {
					corner, ok := vh.det.Corner(vh.board.At(i, j))
					if !ok {
						continue
					}
					landmark, ok := scene.Landmarks[sfm.ID(i*gridCols+j)]
					if !ok {
						continue
					}
					landmark.Observations[vh.viewID] = &sfm.Observation{
						Coords:    corner,
						FeatureID: vh.board.At(i, j),
						Scale:     1.0,
					}
				}
			}
		}
	}

	if opts.Refiner != nil {
		refineOpts := sfm.RefineRotation | sfm.RefineTranslation | sfm.RefineFocal | sfm.RefineDistortion
		if err := opts.Refiner.Refine(scene, refineOpts); err != nil {
			return errors.Wrap(sfm.ErrRefinementFailed, err.Error())
		}
	}
	logResiduals(scene, logger)
	return nil
}

func sortedIntrinsicIDs(scene *sfm.Scene) []sfm.ID {
	out := make([]sfm.ID, 0, len(scene.Intrinsics))
	for id := range scene.Intrinsics {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package main estimates camera intrinsics from checkerboard detections.
//
// It reads a scene file plus one checkers_<viewID>.json detection file per
// view, calibrates either from several views of one board or from a single
// view with several inner boards, and writes the calibrated scene back out.
package main

import (
	"flag"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/calibration"
	"go.viam.com/sfminit/sfm"
)

func main() {
	logger := golog.NewDevelopmentLogger("intrinsics-calibration")
	if err := realMain(logger); err != nil {
		logger.Fatal(err)
	}
}

func realMain(logger golog.Logger) error {
	var (
		inputPath     = flag.String("input", "", "scene file input")
		checkersPath  = flag.String("checkerboards", "", "checkerboard detection files directory")
		outputPath    = flag.String("output", "", "scene file output")
		squareSize    = flag.Float64("square-size", 0.1, "checkerboard square width in meters")
		innerGrids    = flag.Bool("inner-grids", true, "calibrate from several boards in a single view")
		simplePinhole = flag.Bool("simple-pinhole", false, "force a centered, distortion-free, square-pixel result")
	)
	flag.Parse()
	if *inputPath == "" || *checkersPath == "" || *outputPath == "" {
		flag.Usage()
		return errors.New("-input, -checkerboards and -output are required")
	}

	scene, err := sfm.LoadScene(*inputPath)
	if err != nil {
		return err
	}

	detections := map[sfm.ID]*sfm.BoardDetection{}
	for _, viewID := range scene.SortedViewIDs() {
		path := sfm.BoardDetectionPath(*checkersPath, viewID)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		det, err := sfm.LoadBoardDetection(path)
		if err != nil {
			return err
		}
		detections[viewID] = det
	}
	logger.Infof("loaded detections for %d of %d views", len(detections), len(scene.Views))

	if *innerGrids {
		if len(detections) != 1 {
			return errors.Errorf("inner-grids calibration works with exactly one view, got %d", len(detections))
		}
		var viewID sfm.ID
		var det *sfm.BoardDetection
		for id, d := range detections {
			viewID, det = id, d
		}
		opts := calibration.ResectOptions{
			SimplePinhole: *simplePinhole,
			Refiner:       sfm.NoopRefiner{},
		}
		if err := calibration.ResectBoards(scene, viewID, det, opts, logger); err != nil {
			return err
		}
	} else {
		opts := calibration.Options{
			SquareSize: *squareSize,
			Refiner:    sfm.NoopRefiner{},
		}
		if err := calibration.CalibrateIntrinsics(scene, detections, opts, logger); err != nil {
			return err
		}
	}

	hist, err := calibration.ResidualHistogram(scene, 10.0, 20)
	if err != nil {
		return err
	}
	if err := hist.Fprint(os.Stdout); err != nil {
		return err
	}

	return sfm.SaveScene(scene, *outputPath)
}

// Package main seeds a structure-from-motion reconstruction from the best
// candidate view pair.
//
// It reads a scene file, a tracks file, and a directory of candidate pair
// files, scores every candidate, and writes the scene initialized from the
// winner. A scene that already has two posed views is left alone.
package main

import (
	"flag"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/bootstrap"
	"go.viam.com/sfminit/sfm"
)

func main() {
	logger := golog.NewDevelopmentLogger("sfm-bootstrap")
	if err := realMain(logger); err != nil {
		logger.Fatal(err)
	}
}

func realMain(logger golog.Logger) error {
	var (
		inputPath   = flag.String("input", "", "scene file input")
		outputPath  = flag.String("output", "", "scene file output")
		tracksPath  = flag.String("tracks", "", "tracks file")
		pairsPath   = flag.String("pairs", "", "candidate pairs directory")
		maxEpipolar = flag.Float64("max-epipolar-distance", 4.0, "maximum signed distance to the epipolar line in pixels")
		minAngle    = flag.Float64("min-angle", 5.0, "minimum median parallax in degrees")
	)
	flag.Parse()
	if *inputPath == "" || *outputPath == "" || *tracksPath == "" || *pairsPath == "" {
		flag.Usage()
		return errors.New("-input, -output, -tracks and -pairs are required")
	}

	scene, err := sfm.LoadScene(*inputPath)
	if err != nil {
		return err
	}
	if len(scene.ValidViews()) >= 2 {
		logger.Info("scene already has an initialization")
		return nil
	}

	logger.Info("loading tracks")
	tracks, err := sfm.LoadTracks(*tracksPath)
	if err != nil {
		return err
	}

	pairs, err := sfm.LoadPairsDirectory(*pairsPath)
	if err != nil {
		return err
	}
	logger.Infof("scoring %d candidate pairs", len(pairs))

	opts := bootstrap.Options{
		MaxEpipolarDistance: *maxEpipolar,
		MinAngleDeg:         *minAngle,
	}
	best, err := bootstrap.SelectBest(scene, pairs, tracks, opts, logger)
	if err != nil {
		return err
	}
	if err := bootstrap.SeedScene(scene, best, tracks); err != nil {
		return err
	}

	return sfm.SaveScene(scene, *outputPath)
}
